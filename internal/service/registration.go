package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/aasha-care/aasha-relay/internal/client"
)

type Poster interface {
	Post(ctx context.Context, payload any) (json.RawMessage, error)
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Time      string `json:"time"`
}

type LovedOne struct {
	PhoneNumber   string `json:"phoneNumber"`
	CountryCode   string `json:"countryCode"`
	ToNumber      string `json:"toNumber"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	DateOfBirth   string `json:"dateOfBirth"`
	Gender        string `json:"gender"`
	Language      string `json:"language"`
	MaritalStatus string `json:"maritalStatus"`
	Relationship  string `json:"relationship"`
}

// Registration is the onboarding record sent when a user or family member signs up.
type Registration struct {
	UserID             string       `json:"userId"`
	ProfileID          string       `json:"profileId"`
	ElderlyProfileID   string       `json:"elderlyProfileId"`
	RegistrationType   string       `json:"registrationType"`
	PhoneNumber        string       `json:"phoneNumber"`
	CountryCode        string       `json:"countryCode"`
	ToNumber           string       `json:"toNumber,omitempty"`
	FirstName          string       `json:"firstName"`
	LastName           string       `json:"lastName"`
	DateOfBirth        string       `json:"dateOfBirth"`
	Gender             string       `json:"gender"`
	Language           string       `json:"language"`
	MaritalStatus      string       `json:"maritalStatus"`
	CallTimePreference string       `json:"callTimePreference"`
	Medications        []Medication `json:"medications"`
	Interests          []string     `json:"interests"`
	TelegramChatID     string       `json:"telegram_chat_id,omitempty"`
	TelegramUsername   string       `json:"telegram_username,omitempty"`
	LovedOne           *LovedOne    `json:"lovedOne,omitempty"`
}

type WelcomePayload struct {
	ElderlyProfileID     string `json:"elderly_profile_id"`
	TelegramChatID       string `json:"telegram_chat_id,omitempty"`
	TelegramUsername     string `json:"telegram_username,omitempty"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Language             string `json:"language"`
	TelegramLanguageCode string `json:"telegram_language_code"`
	PhoneNumber          string `json:"phone_number"`
	CountryCode          string `json:"country_code"`
	RegistrationType     string `json:"registration_type"`
}

// WelcomePayload derives the Telegram welcome body. Loved-one details, when present,
// take precedence over the registrant's own.
func (r Registration) WelcomePayload() WelcomePayload {
	pick := func(lovedOne, own string) string {
		if lovedOne != "" {
			return lovedOne
		}
		return own
	}

	var lo LovedOne
	if r.LovedOne != nil {
		lo = *r.LovedOne
	}

	language := pick(lo.Language, r.Language)
	code := "en"
	if language == "Hindi" {
		code = "hi"
	}

	return WelcomePayload{
		ElderlyProfileID:     r.ElderlyProfileID,
		TelegramChatID:       r.TelegramChatID,
		TelegramUsername:     r.TelegramUsername,
		FirstName:            pick(lo.FirstName, r.FirstName),
		LastName:             pick(lo.LastName, r.LastName),
		Language:             language,
		TelegramLanguageCode: code,
		PhoneNumber:          pick(lo.PhoneNumber, r.PhoneNumber),
		CountryCode:          pick(lo.CountryCode, r.CountryCode),
		RegistrationType:     r.RegistrationType,
	}
}

type WebhookOutcome struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *string         `json:"error"`
}

type RegistrationResult struct {
	Success         bool           `json:"success"`
	InitiateCall    WebhookOutcome `json:"initiateCall"`
	TelegramWelcome WebhookOutcome `json:"telegramWelcome"`
}

// Registrar relays onboarding events to the call and welcome workflows.
type Registrar struct {
	initiateCall Poster
	welcome      Poster
}

func NewRegistrar(initiateCall, welcome Poster) *Registrar {
	return &Registrar{initiateCall: initiateCall, welcome: welcome}
}

// Register fans raw out to both workflows in parallel. Each side settles on its own;
// the result is successful when at least one side succeeded.
func (r *Registrar) Register(ctx context.Context, raw json.RawMessage) (RegistrationResult, error) {
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return RegistrationResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var res RegistrationResult
	var g errgroup.Group
	g.Go(func() error {
		res.InitiateCall = settle(ctx, "Initiate call", r.initiateCall, raw)
		return nil
	})
	g.Go(func() error {
		res.TelegramWelcome = settle(ctx, "Telegram welcome", r.welcome, reg.WelcomePayload())
		return nil
	})
	_ = g.Wait()

	res.Success = res.InitiateCall.Success || res.TelegramWelcome.Success
	return res, nil
}

// Welcome forwards raw to the welcome workflow unchanged.
func (r *Registrar) Welcome(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidRequest)
	}
	return r.welcome.Post(ctx, raw)
}

func settle(ctx context.Context, name string, p Poster, payload any) WebhookOutcome {
	result, err := p.Post(ctx, payload)
	if err == nil {
		return WebhookOutcome{Success: true, Result: result}
	}

	slog.Error("webhook failed", "webhook", name, "error", err)

	msg := err.Error()
	var se *client.StatusError
	if errors.As(err, &se) {
		msg = fmt.Sprintf("%s webhook failed with status %d", name, se.StatusCode)
	}
	return WebhookOutcome{Error: &msg}
}
