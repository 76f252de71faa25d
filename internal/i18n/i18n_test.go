package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sportsgpt/chat-relay/internal/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "pt-BR"},
		{"pt-BR", "pt-BR"},
		{"pt-PT,pt;q=0.9", "pt-BR"},
		{"en-US,en;q=0.9", "en"},
		{"ja", "pt-BR"},
		{";;;garbage", "pt-BR"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.header).String())
		})
	}
}

func TestTextFormatsArguments(t *testing.T) {
	assert.Equal(t,
		"Limite de mensagens atingido. Tente novamente em 42 segundos.",
		Text(PortugueseBR, KeyLimitReached, 42))
	assert.Equal(t,
		"Wait 2 seconds before sending another message",
		Text(English, KeyWaitBeforeSending, 2))
}

func TestEveryKindHasMessages(t *testing.T) {
	kinds := []model.ErrorKind{
		model.KindMalformedRequest, model.KindValidation, model.KindRateLimited,
		model.KindServiceUnavailable, model.KindConfiguration, model.KindServerError,
		model.KindTransmission, model.KindEmptyResponse,
	}
	for _, tag := range supported {
		for _, kind := range kinds {
			assert.NotEmpty(t, ForKind(tag, kind), "%s/%s", tag, kind)
		}
	}
}

func TestConfigurationMentionsSupport(t *testing.T) {
	assert.Contains(t, ForKind(PortugueseBR, model.KindConfiguration), "suporte")
	assert.Contains(t, ForKind(English, model.KindConfiguration), "support")
}
