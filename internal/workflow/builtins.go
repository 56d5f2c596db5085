package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"famagpt-fabric/internal/agents"
	"famagpt-fabric/internal/llm"
)

// Deps bundles the collaborators every built-in workflow's nodes call out
// to, so RegisterBuiltins stays a single call at composition time.
type Deps struct {
	Agents *agents.Dispatcher
	LLM    llm.Client
}

// RegisterBuiltins wires the five named workflows described for the
// message processing fabric: audio_processing, property_search,
// greeting, question_answering, general_conversation.
func RegisterBuiltins(e *Engine, deps Deps) {
	e.Register(audioProcessingWorkflow(deps))
	e.Register(propertySearchWorkflow(deps))
	e.Register(greetingWorkflow(deps))
	e.Register(questionAnsweringWorkflow(deps))
	e.Register(generalConversationWorkflow(deps))
}

func audioProcessingWorkflow(deps Deps) *Definition {
	transcribe := func(ctx context.Context, s *State) error {
		audioURL, _ := s.Context["audio_url"].(string)
		contentType, _ := s.Context["content_type"].(string)
		language, _ := s.Context["language"].(string)
		if language == "" {
			language = "pt"
		}

		res := deps.Agents.TranscribeURL(ctx, audioURL, contentType, language)
		s.SetResult("transcription", res)
		if !res.Success {
			return fmt.Errorf("transcription failed: %s", res.Error)
		}
		text, _ := res.Data["text"].(string)
		s.Context["transcribed_text"] = text
		return nil
	}

	processText := func(_ context.Context, s *State) error {
		text, _ := s.Context["transcribed_text"].(string)
		if text != "" {
			s.SetResult("next_workflow", "property_search")
			s.SetResult("processed_content", text)
		}
		return nil
	}

	return &Definition{
		Name:      "audio_processing",
		EntryNode: "transcribe",
		Nodes: map[string]Node{
			"transcribe":   transcribe,
			"process_text": processText,
		},
		Edges: map[string][]string{
			"transcribe": {"process_text"},
		},
	}
}

// parseCriteria parses the model's JSON response into a criteria map,
// tolerating a ```json fenced block, and falls back to an empty map on
// parse failure rather than failing the node.
func parseCriteria(content string) map[string]any {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var criteria map[string]any
	if err := json.Unmarshal([]byte(cleaned), &criteria); err != nil {
		return map[string]any{}
	}
	return criteria
}

func propertySearchWorkflow(deps Deps) *Definition {
	extractCriteria := func(ctx context.Context, s *State) error {
		content, _ := s.Context["message_content"].(string)
		prompt := "Extract property search criteria (type, location, price range, bedrooms, bathrooms, area, features) from this message as JSON: " + content
		resp, err := deps.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
		if err != nil {
			return err
		}
		s.SetResult("search_criteria", parseCriteria(resp.Content))
		return nil
	}

	searchProperties := func(ctx context.Context, s *State) error {
		criteria, _ := s.GetResult("search_criteria")
		criteriaMap, _ := criteria.(map[string]any)
		res := deps.Agents.SearchProperties(ctx, criteriaMap)
		s.SetResult("search_result", res)
		if !res.Success {
			return fmt.Errorf("property search failed: %s", res.Error)
		}

		var props []any
		if p, ok := res.Data["properties"].([]any); ok {
			props = p
		} else if p, ok := res.Data["results"].([]any); ok {
			props = p
		}
		s.SetResult("properties", props)
		return nil
	}

	formatResponse := func(_ context.Context, s *State) error {
		props, _ := s.GetResult("properties")
		list, _ := props.([]any)

		var b strings.Builder
		if len(list) == 0 {
			b.WriteString("Não encontrei imóveis com os critérios informados. Pode tentar uma busca diferente?")
		} else {
			fmt.Fprintf(&b, "Encontrei %d imóveis que podem te interessar:\n\n", len(list))
			limit := len(list)
			if limit > 5 {
				limit = 5
			}
			for i := 0; i < limit; i++ {
				prop, _ := list[i].(map[string]any)
				title, _ := prop["title"].(string)
				if title == "" {
					title = "Imóvel"
				}
				fmt.Fprintf(&b, "%d. %s", i+1, title)
				if price, ok := prop["price"]; ok && fmt.Sprint(price) != "" {
					fmt.Fprintf(&b, " - %s", fmt.Sprint(price))
				}
				if location, ok := prop["location"]; ok && fmt.Sprint(location) != "" {
					fmt.Fprintf(&b, " - %s", fmt.Sprint(location))
				}
				if bedrooms, ok := prop["bedrooms"]; ok {
					fmt.Fprintf(&b, " - %s quartos", fmt.Sprint(bedrooms))
				}
				if bathrooms, ok := prop["bathrooms"]; ok {
					fmt.Fprintf(&b, " - %s banheiros", fmt.Sprint(bathrooms))
				}
				b.WriteString("\n")
			}
			b.WriteString("\nGostaria de mais detalhes sobre algum destes imóveis?")
		}

		s.SetResult("formatted_response", b.String())
		return nil
	}

	return &Definition{
		Name:      "property_search",
		EntryNode: "extract_criteria",
		Nodes: map[string]Node{
			"extract_criteria": extractCriteria,
			"search_properties": searchProperties,
			"format_response":   formatResponse,
		},
		Edges: map[string][]string{
			"extract_criteria":  {"search_properties"},
			"search_properties": {"format_response"},
		},
	}
}

func greetingWorkflow(deps Deps) *Definition {
	generateGreeting := func(ctx context.Context, s *State) error {
		userID, _ := s.Context["user_id"].(string)

		hasSearchHistory := false
		if res := deps.Agents.GetUserContext(ctx, userID); res.Success {
			if mems, ok := res.Data["recent_memories"].([]any); ok {
				for _, m := range mems {
					entry, _ := m.(map[string]any)
					content := strings.ToLower(fmt.Sprint(entry["content"]))
					if strings.Contains(content, "busca") || strings.Contains(content, "imóvel") || strings.Contains(content, "propriedade") {
						hasSearchHistory = true
						break
					}
				}
			}
		}

		var greeting string
		if hasSearchHistory {
			greeting = "Olá novamente! 👋\n\nVejo que você já conversou comigo antes sobre imóveis. Como posso te ajudar hoje?"
		} else {
			greeting = "Olá! 👋\n\nSou o assistente especialista em imóveis. Posso buscar imóveis, avaliar preços, tirar dúvidas de documentação e conectar você com corretores.\n\nO que você gostaria de fazer?"
		}

		s.SetResult("greeting", greeting)
		s.SetResult("formatted_response", greeting)

		deps.Agents.StoreMemory(ctx, userID, s.ConversationKey, greeting, "assistant", "greeting", map[string]any{
			"importance_score": 0.3,
		})
		return nil
	}

	return &Definition{
		Name:      "greeting",
		EntryNode: "generate_greeting",
		Nodes: map[string]Node{
			"generate_greeting": generateGreeting,
		},
		Edges: map[string][]string{},
	}
}

// appendMemoriesAndSources enriches a generated answer with relevant prior
// memories (similarity above 0.7, top 2) and cited RAG sources (top 3),
// matching the original's generate_answer formatting.
func appendMemoriesAndSources(generated string, memories, sources []any) string {
	var b strings.Builder
	b.WriteString(generated)

	relevant := make([]map[string]any, 0, 2)
	for _, m := range memories {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		score, _ := entry["similarity_score"].(float64)
		if score > 0.7 {
			relevant = append(relevant, entry)
		}
		if len(relevant) == 2 {
			break
		}
	}
	if len(relevant) > 0 {
		b.WriteString("\n\n📋 Com base em nossas conversas anteriores:\n")
		for _, mem := range relevant {
			content := fmt.Sprint(mem["content"])
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			fmt.Fprintf(&b, "• %s\n", content)
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n\nFontes:\n")
		limit := len(sources)
		if limit > 3 {
			limit = 3
		}
		for i := 0; i < limit; i++ {
			src, ok := sources[i].(map[string]any)
			if !ok {
				continue
			}
			title, _ := src["document_title"].(string)
			if title == "" {
				title, _ = src["chunk_id"].(string)
			}
			if title == "" {
				title = "fonte"
			}
			if score, ok := src["similarity_score"].(float64); ok {
				fmt.Fprintf(&b, "- %s (similaridade %.2f)\n", title, score)
			} else {
				fmt.Fprintf(&b, "- %s\n", title)
			}
		}
	}

	return b.String()
}

func questionAnsweringWorkflow(deps Deps) *Definition {
	retrieveKnowledge := func(ctx context.Context, s *State) error {
		question, _ := s.Context["message_content"].(string)
		userID, _ := s.Context["user_id"].(string)

		memRes := deps.Agents.SearchMemory(ctx, userID, question, 3)
		memories, _ := memRes.Data["memories"].([]any)
		s.SetResult("memory_context", memories)

		ragRes := deps.Agents.Query(ctx, question, "real_estate")
		s.SetResult("rag_response", ragRes)
		if !ragRes.Success {
			return fmt.Errorf("knowledge retrieval failed: %s", ragRes.Error)
		}
		sources, _ := ragRes.Data["sources"].([]any)
		s.SetResult("sources", sources)
		return nil
	}

	generateAnswer := func(ctx context.Context, s *State) error {
		question, _ := s.Context["message_content"].(string)
		userID, _ := s.Context["user_id"].(string)
		ragResult, _ := s.GetResult("rag_response")
		ragRes, _ := ragResult.(agents.Result)

		memContext, _ := s.GetResult("memory_context")
		memories, _ := memContext.([]any)
		sourcesResult, _ := s.GetResult("sources")
		sources, _ := sourcesResult.([]any)

		generated, _ := ragRes.Data["generated_response"].(string)
		if generated == "" {
			prompt := "Answer this real estate question about the local market: " + question
			if len(memories) > 0 {
				var memText strings.Builder
				for i, m := range memories {
					if i >= 3 {
						break
					}
					entry, _ := m.(map[string]any)
					memText.WriteString(fmt.Sprint(entry["content"]))
					memText.WriteString("\n")
				}
				prompt += "\n\nContexto das conversas anteriores:\n" + memText.String()
			}
			resp, err := deps.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
			if err != nil {
				return fmt.Errorf("answer generation failed: %w", err)
			}
			generated = resp.Content
		}

		formatted := appendMemoriesAndSources(generated, memories, sources)

		s.SetResult("answer", generated)
		s.SetResult("formatted_response", formatted)

		deps.Agents.StoreMemory(ctx, userID, s.ConversationKey, "Pergunta: "+question, "user", "qa_interaction", map[string]any{
			"importance_score":     0.6,
			"sources_count":       len(sources),
			"memory_context_count": len(memories),
		})
		deps.Agents.StoreMemory(ctx, userID, s.ConversationKey, generated, "assistant", "qa_interaction", map[string]any{
			"importance_score": 0.6,
		})
		return nil
	}

	return &Definition{
		Name:      "question_answering",
		EntryNode: "retrieve_knowledge",
		Nodes: map[string]Node{
			"retrieve_knowledge": retrieveKnowledge,
			"generate_answer":    generateAnswer,
		},
		Edges: map[string][]string{
			"retrieve_knowledge": {"generate_answer"},
		},
	}
}

func generalConversationWorkflow(deps Deps) *Definition {
	respond := func(ctx context.Context, s *State) error {
		content, _ := s.Context["message_content"].(string)
		resp, err := deps.LLM.Chat(ctx, []llm.Message{
			{Role: "system", Content: "You are a helpful real estate assistant for Uberlândia, Brazil."},
			{Role: "user", Content: content},
		})
		if err != nil {
			s.SetResult("formatted_response", "Tudo certo por aqui. Como posso ajudar você com imóveis hoje?")
			return nil
		}
		s.SetResult("formatted_response", resp.Content)
		return nil
	}

	return &Definition{
		Name:      "general_conversation",
		EntryNode: "respond",
		Nodes: map[string]Node{
			"respond": respond,
		},
		Edges: map[string][]string{},
	}
}
