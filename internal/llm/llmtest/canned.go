package llmtest

import (
	"context"
	"strings"
	"time"

	"github.com/sportsgpt/chat-relay/internal/llm"
)

// CannedReply answers any prompt containing one of Keywords.
type CannedReply struct {
	Keywords []string
	Reply    string
}

// Canned answers from a fixed table keyed on substrings of the latest user
// message, streaming the reply word by word. It never calls a network.
type Canned struct {
	Replies  []CannedReply
	Fallback string
	Delay    time.Duration
}

// NewCanned returns a demo provider with the built-in replies.
func NewCanned(delay time.Duration) *Canned {
	return &Canned{
		Replies:  DefaultReplies,
		Fallback: defaultFallback,
		Delay:    delay,
	}
}

// DefaultReplies cover the questions the demo is usually shown with.
var DefaultReplies = []CannedReply{
	{
		Keywords: []string{"odd", "mercado"},
		Reply: "Para jogos equilibrados da Série A, os mercados mais consistentes costumam ser " +
			"dupla chance e menos de 2.5 gols, com odds entre 1.40 e 1.85. Lembre-se: odds " +
			"refletem probabilidade, não garantia. Aposte apenas o que pode perder.",
	},
	{
		Keywords: []string{"palpite", "quem ganha", "vence"},
		Reply: "Não existe resultado garantido. Olhe a forma recente nos últimos cinco jogos, " +
			"o desempenho como mandante e os desfalques confirmados antes de decidir. " +
			"Jogue com responsabilidade.",
	},
	{
		Keywords: []string{"escanteio", "cartão", "cartões"},
		Reply: "Mercados de escanteios e cartões dependem muito do estilo das equipes e do " +
			"árbitro escalado. Times que jogam pelas pontas tendem a gerar mais escanteios. " +
			"Confira as médias da temporada antes de apostar.",
	},
}

const defaultFallback = "Sou o SportsGPT em modo demonstração. Pergunte sobre odds, mercados " +
	"ou palpites dos seus times e eu mostro como seria a análise. Apostas envolvem riscos."

// Name returns the provider name.
func (c *Canned) Name() string { return string(llm.ProviderDemo) }

// Stream picks the reply for the latest user message.
func (c *Canned) Stream(ctx context.Context, req *llm.CompletionRequest) (llm.Stream, error) {
	reply := c.Fallback
	if prompt := lastUserContent(req.Messages); prompt != "" {
		lower := strings.ToLower(prompt)
	search:
		for _, r := range c.Replies {
			for _, kw := range r.Keywords {
				if strings.Contains(lower, kw) {
					reply = r.Reply
					break search
				}
			}
		}
	}

	s := &Scripted{Fragments: strings.SplitAfter(reply, " "), Delay: c.Delay}
	return s.Stream(ctx, req)
}

func lastUserContent(msgs []llm.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
