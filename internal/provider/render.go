package provider

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// smsMaxLength keeps a dispatch text within two concatenated segments.
const smsMaxLength = 306

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// packPayload and dispatchPayload mirror the JSON the lifecycle service
// stores on pack and send side effects.
type packPayload struct {
	EnrolleeName     string `json:"enrolleeName"`
	DeliveryAddress  string `json:"deliveryAddress"`
	NextDeliveryDate string `json:"nextDeliveryDate"`
	Deliveries       []struct {
		EntryNo    int `json:"entryNo"`
		Procedures []struct {
			ID       string `json:"procedureId"`
			Name     string `json:"procedureName"`
			Quantity int    `json:"quantity"`
			Dosage   string `json:"dosage"`
		} `json:"procedures"`
	} `json:"deliveries"`
}

type dispatchPayload struct {
	EnrolleeName string `json:"enrolleeName"`
	EntryNos     []int  `json:"entryNos"`
}

type emailRequest struct {
	ID         string          `json:"id"`
	Channel    string          `json:"channel"`
	To         string          `json:"to"`
	Subject    string          `json:"subject"`
	Template   string          `json:"template"`
	EnrolleeID string          `json:"enrolleeId"`
	EntryNos   []int           `json:"entryNos"`
	Data       json.RawMessage `json:"data"`
}

type smsRequest struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

type noteLine struct {
	EntryNo     int    `json:"entryNo"`
	ProcedureID string `json:"procedureId"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
	Dosage      string `json:"dosage,omitempty"`
}

type deliveryNoteRequest struct {
	ID               string     `json:"id"`
	Channel          string     `json:"channel"`
	PharmacyID       string     `json:"pharmacyId"`
	EnrolleeID       string     `json:"enrolleeId"`
	EnrolleeName     string     `json:"enrolleeName,omitempty"`
	DeliveryAddress  string     `json:"deliveryAddress,omitempty"`
	NextDeliveryDate string     `json:"nextDeliveryDate,omitempty"`
	Lines            []noteLine `json:"lines"`
}

type renderFunc func(sideEffect domain.SideEffect) (any, error)

var renderers = map[domain.SideEffectKind]renderFunc{
	domain.KindEmail:        renderEmail,
	domain.KindSMS:          renderSMS,
	domain.KindDeliveryNote: renderDeliveryNote,
}

// render turns a stored side effect into the request body for its channel.
func render(sideEffect domain.SideEffect) (any, error) {
	fn, ok := renderers[sideEffect.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no renderer for kind %q", domain.ErrValidation, sideEffect.Kind)
	}
	return fn(sideEffect)
}

func renderEmail(sideEffect domain.SideEffect) (any, error) {
	addr, err := mail.ParseAddress(sideEffect.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid email recipient %q", domain.ErrValidation, sideEffect.Recipient)
	}
	if !json.Valid([]byte(sideEffect.Payload)) {
		return nil, fmt.Errorf("%w: email payload is not valid JSON", domain.ErrValidation)
	}

	action := strings.ToLower(sideEffect.Action.String())
	return emailRequest{
		ID:         sideEffect.ID,
		Channel:    channel(sideEffect.Kind),
		To:         addr.Address,
		Subject:    emailSubject(sideEffect.Action),
		Template:   "delivery_" + action,
		EnrolleeID: sideEffect.EnrolleeID,
		EntryNos:   sideEffect.EntryNos,
		Data:       json.RawMessage(sideEffect.Payload),
	}, nil
}

func emailSubject(action domain.Action) string {
	switch action {
	case domain.ActionPack:
		return "Your medication pack is being prepared"
	case domain.ActionSend:
		return "Your medication is on its way"
	default:
		return "Update on your medication delivery"
	}
}

func renderSMS(sideEffect domain.SideEffect) (any, error) {
	phone := normalizePhone(sideEffect.Recipient)
	if !phonePattern.MatchString(phone) {
		return nil, fmt.Errorf("%w: invalid sms recipient %q", domain.ErrValidation, sideEffect.Recipient)
	}

	var payload dispatchPayload
	if err := json.Unmarshal([]byte(sideEffect.Payload), &payload); err != nil {
		return nil, fmt.Errorf("%w: sms payload: %v", domain.ErrValidation, err)
	}
	entryNos := payload.EntryNos
	if len(entryNos) == 0 {
		entryNos = sideEffect.EntryNos
	}

	return smsRequest{
		ID:      sideEffect.ID,
		Channel: channel(sideEffect.Kind),
		To:      phone,
		Text:    dispatchText(payload.EnrolleeName, entryNos),
	}, nil
}

// dispatchText lists the delivery numbers when they fit and falls back to a
// count when they would push the text past smsMaxLength.
func dispatchText(name string, entryNos []int) string {
	greeting := "Hello"
	if first, _, _ := strings.Cut(strings.TrimSpace(name), " "); first != "" {
		greeting += " " + first
	}

	numbers := make([]string, 0, len(entryNos))
	for _, n := range entryNos {
		numbers = append(numbers, strconv.Itoa(n))
	}
	label := "delivery"
	if len(entryNos) != 1 {
		label = "deliveries"
	}

	text := fmt.Sprintf("%s, your medication (%s %s) has been dispatched.", greeting, label, strings.Join(numbers, ", "))
	if len(text) <= smsMaxLength {
		return text
	}
	return fmt.Sprintf("%s, your medication (%d deliveries) has been dispatched.", greeting, len(entryNos))
}

func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func renderDeliveryNote(sideEffect domain.SideEffect) (any, error) {
	var payload packPayload
	if err := json.Unmarshal([]byte(sideEffect.Payload), &payload); err != nil {
		return nil, fmt.Errorf("%w: delivery note payload: %v", domain.ErrValidation, err)
	}

	var lines []noteLine
	for _, d := range payload.Deliveries {
		for _, p := range d.Procedures {
			lines = append(lines, noteLine{
				EntryNo:     d.EntryNo,
				ProcedureID: p.ID,
				Name:        p.Name,
				Quantity:    p.Quantity,
				Dosage:      p.Dosage,
			})
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: delivery note has no procedure lines", domain.ErrValidation)
	}

	return deliveryNoteRequest{
		ID:               sideEffect.ID,
		Channel:          channel(sideEffect.Kind),
		PharmacyID:       strings.TrimSpace(sideEffect.Recipient),
		EnrolleeID:       sideEffect.EnrolleeID,
		EnrolleeName:     payload.EnrolleeName,
		DeliveryAddress:  payload.DeliveryAddress,
		NextDeliveryDate: payload.NextDeliveryDate,
		Lines:            lines,
	}, nil
}

func channel(kind domain.SideEffectKind) string {
	return strings.ToLower(kind.String())
}
