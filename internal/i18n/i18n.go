// Package i18n holds the user-facing message catalog.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/sportsgpt/chat-relay/internal/model"
)

// Key identifies a catalog entry.
type Key string

const (
	KeyMalformedRequest   Key = Key(model.KindMalformedRequest)
	KeyValidation         Key = Key(model.KindValidation)
	KeyRateLimited        Key = Key(model.KindRateLimited)
	KeyServiceUnavailable Key = Key(model.KindServiceUnavailable)
	KeyConfiguration      Key = Key(model.KindConfiguration)
	KeyServerError        Key = Key(model.KindServerError)
	KeyTransmission       Key = Key(model.KindTransmission)
	KeyEmptyResponse      Key = Key(model.KindEmptyResponse)

	// KeyQuotaExhausted is the relay's 503 body.
	KeyQuotaExhausted Key = "quota_exhausted"
	// KeyConfigurationBody is the relay's body for credential failures.
	KeyConfigurationBody Key = "configuration_body"
	// KeyLimitReached takes the seconds until the window resets.
	KeyLimitReached Key = "limit_reached"
	// KeyWaitBeforeSending takes the seconds to wait.
	KeyWaitBeforeSending Key = "wait_before_sending"
	// KeyNetwork is a transport failure before any response arrived.
	KeyNetwork Key = "network_error"
)

var (
	// PortugueseBR is the product's primary language.
	PortugueseBR = language.MustParse("pt-BR")
	// English is the fallback for everyone else.
	English = language.English

	supported = []language.Tag{PortugueseBR, English}
	matcher   = language.NewMatcher(supported)
)

var catalog = map[language.Tag]map[Key]string{
	PortugueseBR: {
		KeyMalformedRequest:   "Requisição inválida.",
		KeyValidation:         "Mensagem inválida. Revise o texto e tente novamente.",
		KeyRateLimited:        "Muitas requisições. Tente novamente em alguns segundos.",
		KeyServiceUnavailable: "Serviço temporariamente indisponível. Tente novamente mais tarde.",
		KeyConfiguration:      "Erro de configuração do serviço. Entre em contato com o suporte.",
		KeyServerError:        "Erro interno do servidor. Tente novamente.",
		KeyTransmission:       "Erro na transmissão de dados. Tente novamente.",
		KeyEmptyResponse:      "Resposta vazia da IA. Tente reformular sua pergunta.",
		KeyQuotaExhausted:     "Cota da API excedida. Tente novamente mais tarde.",
		KeyConfigurationBody:  "Erro de configuração da API",
		KeyLimitReached:       "Limite de mensagens atingido. Tente novamente em %d segundos.",
		KeyWaitBeforeSending:  "Aguarde %d segundos antes de enviar outra mensagem",
		KeyNetwork:            "Erro de rede. Verifique sua conexão com a internet.",
	},
	English: {
		KeyMalformedRequest:   "Invalid request.",
		KeyValidation:         "Invalid message. Please review the text and try again.",
		KeyRateLimited:        "Too many requests. Please try again in a few seconds.",
		KeyServiceUnavailable: "Service temporarily unavailable. Please try again later.",
		KeyConfiguration:      "Service configuration error. Please contact support.",
		KeyServerError:        "Internal server error. Please try again.",
		KeyTransmission:       "Data transmission error. Please try again.",
		KeyEmptyResponse:      "The AI returned an empty response. Try rephrasing your question.",
		KeyQuotaExhausted:     "API quota exceeded. Please try again later.",
		KeyConfigurationBody:  "API configuration error",
		KeyLimitReached:       "Message limit reached. Try again in %d seconds.",
		KeyWaitBeforeSending:  "Wait %d seconds before sending another message",
		KeyNetwork:            "Network error. Check your internet connection.",
	},
}

// Match picks the best supported language for an Accept-Language header
// or a bare locale such as "pt-BR". Unknown or empty input yields pt-BR.
func Match(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return PortugueseBR
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return PortugueseBR
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return PortugueseBR
	}
	return supported[idx]
}

// Text renders the catalog entry for key in tag, formatting args into it.
func Text(tag language.Tag, key Key, args ...any) string {
	msgs, ok := catalog[tag]
	if !ok {
		msgs = catalog[PortugueseBR]
	}
	msg, ok := msgs[key]
	if !ok {
		msg = catalog[PortugueseBR][key]
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// ForKind renders the generic message for an error kind.
func ForKind(tag language.Tag, kind model.ErrorKind) string {
	return Text(tag, Key(kind))
}
