// Package webhook maps provider-specific inbound payloads onto
// model.NormalizedIncomingMessage.
package webhook

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/phone"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// Normalizer converts raw webhook bodies into canonical inbound messages.
type Normalizer struct {
	validate *validator.Validate
	logger   *logger.Logger
}

// NewNormalizer creates a new webhook normalizer.
func NewNormalizer(log *logger.Logger) *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Normalizer{
		validate: v,
		logger:   log,
	}
}

// ParseProvider maps a provider hint to a known provider. Unknown hints
// return false.
func ParseProvider(hint string) (model.Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "360dialog", "360", "d360", "dialog360":
		return model.Provider360Dialog, true
	case "meta", "cloud", "whatsapp_cloud", "whatsapp_business_account":
		return model.ProviderMeta, true
	default:
		return "", false
	}
}

// Normalize parses body and returns the first inbound text message.
//
// The hint comes from the route and may be empty. A provider field in the
// body is used when the route gives none. Structural detection always wins
// over the hint.
func (n *Normalizer) Normalize(body []byte, hint string) (*model.NormalizedIncomingMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, ErrMalformedBody
		}
		return nil, reject(ReasonMalformedPayload, "%v", err)
	}

	if hint == "" {
		hint = env.Provider
	}

	provider, messages, displayPhone, present := detect(&env)
	if !present {
		if hint == "" {
			return nil, reject(ReasonUnsupportedProvider, "no recognizable payload shape")
		}
		return nil, reject(ReasonUnsupportedProvider, "provider %q with no recognizable payload shape", hint)
	}

	if hint != "" {
		hinted, known := ParseProvider(hint)
		if !known || hinted != provider {
			n.logger.Warn("Provider hint disagrees with payload shape",
				zap.String("hint", hint),
				zap.String("detected", string(provider)),
			)
		}
	}

	if len(messages) == 0 {
		return nil, ErrStatusOnly
	}

	msg := messages[0]
	if msg.To == "" {
		msg.To = displayPhone
	}

	if err := n.validate.Struct(&msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return nil, reject(ReasonMissingField, "%s", strings.Join(fields, ","))
		}
		return nil, reject(ReasonMalformedPayload, "%v", err)
	}

	if msg.Type != "" && msg.Type != "text" {
		return nil, reject(ReasonUnsupportedMessageType, "%s", msg.Type)
	}
	if msg.Text == nil {
		return nil, reject(ReasonMissingField, "text.body")
	}
	// Postgres text columns reject NUL bytes.
	text := strings.ReplaceAll(msg.Text.Body, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return nil, reject(ReasonMissingField, "text.body")
	}

	from := phone.Normalize(msg.From)
	if from == "" {
		return nil, reject(ReasonInvalidPhone, "from")
	}
	to := phone.Normalize(msg.To)
	if to == "" {
		return nil, reject(ReasonInvalidPhone, "to")
	}

	ts, err := parseTimestamp(string(msg.Timestamp))
	if err != nil {
		return nil, reject(ReasonInvalidTimestamp, "%q", string(msg.Timestamp))
	}

	return &model.NormalizedIncomingMessage{
		Provider:          provider,
		ProviderMessageID: msg.ID,
		FromPhone:         from,
		ToPhone:           to,
		Text:              text,
		Timestamp:         ts,
	}, nil
}

// detect inspects the envelope structure. For Meta payloads displayPhone
// is the business number of the change that carried the messages. present
// is false when neither shape matched.
func detect(env *envelope) (provider model.Provider, messages []inboundMessage, displayPhone string, present bool) {
	if len(env.Entry) > 0 {
		for _, change := range env.Entry[0].Changes {
			if len(change.Value.Messages) > 0 {
				return model.ProviderMeta, change.Value.Messages, change.Value.Metadata.DisplayPhoneNumber, true
			}
		}
		return model.ProviderMeta, nil, "", true
	}

	if env.Messages != nil || env.Statuses != nil {
		return model.Provider360Dialog, env.Messages, "", true
	}

	return "", nil, "", false
}

// parseTimestamp accepts unix seconds or RFC3339.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return time.Time{}, errors.New("non-positive unix timestamp")
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
