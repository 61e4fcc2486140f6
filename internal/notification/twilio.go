package notification

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

var twilioTracer = otel.Tracer("appointments.internal.notification.twilio")

const defaultTwilioAPIBase = "https://api.twilio.com/2010-04-01"

// SMSSender delivers a text message and returns the provider SID.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// VoiceCaller places an automated call that reads or plays the message.
type VoiceCaller interface {
	Call(ctx context.Context, to, message string, voiceType VoiceType, language string) (string, error)
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	FromNumber       string
	PublicBaseURL    string // status callbacks, optional
	RecordingBaseURL string // recorded voice prompts
	APIBase          string
}

// TwilioClient posts SMS messages and voice calls using Twilio's REST API.
type TwilioClient struct {
	cfg        TwilioConfig
	httpClient *http.Client
	logger     *logging.Logger
}

func NewTwilioClient(cfg TwilioConfig, logger *logging.Logger) *TwilioClient {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTwilioAPIBase
	}
	return &TwilioClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Configured reports whether credentials and a sender number are present.
func (c *TwilioClient) Configured() bool {
	return c != nil && c.cfg.AccountSID != "" && c.cfg.AuthToken != "" && c.cfg.FromNumber != ""
}

func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", errors.New("notification: sms body required")
	}

	ctx, span := twilioTracer.Start(ctx, "notification.twilio.sms")
	defer span.End()
	span.SetAttributes(attribute.String("appointments.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", c.cfg.FromNumber)
	payload.Set("Body", body)
	if c.cfg.PublicBaseURL != "" {
		payload.Set("StatusCallback", strings.TrimRight(c.cfg.PublicBaseURL, "/")+"/notifications/twilio/sms-status")
	}

	sid, err := c.post(ctx, "Messages.json", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	c.logger.Info("twilio sms sent", "to", to, "sid", sid)
	return sid, nil
}

func (c *TwilioClient) Call(ctx context.Context, to, message string, voiceType VoiceType, language string) (string, error) {
	ctx, span := twilioTracer.Start(ctx, "notification.twilio.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointments.to", to),
		attribute.String("appointments.voice_type", string(voiceType)),
	)

	twiml, err := c.TwiML(message, voiceType, language)
	if err != nil {
		return "", err
	}

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", c.cfg.FromNumber)
	payload.Set("Twiml", twiml)
	if c.cfg.PublicBaseURL != "" {
		payload.Set("StatusCallback", strings.TrimRight(c.cfg.PublicBaseURL, "/")+"/notifications/twilio/voice-status")
	}

	sid, err := c.post(ctx, "Calls.json", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	c.logger.Info("twilio call initiated", "to", to, "sid", sid)
	return sid, nil
}

type twimlResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Play    string    `xml:"Play,omitempty"`
	Say     *twimlSay `xml:"Say,omitempty"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr"`
	Language string `xml:"language,attr"`
	Text     string `xml:",chardata"`
}

// TwiML builds the call script: a recorded prompt, spoken text, or both.
func (c *TwilioClient) TwiML(message string, voiceType VoiceType, language string) (string, error) {
	if language == "" {
		language = "en"
	}
	resp := twimlResponse{}
	if voiceType == VoiceRecorded || voiceType == VoiceBoth {
		resp.Play = fmt.Sprintf("%s/recording_%s.mp3", strings.TrimRight(c.cfg.RecordingBaseURL, "/"), language)
	}
	if voiceType != VoiceRecorded {
		resp.Say = &twimlSay{Voice: "alice", Language: language, Text: message}
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("notification: build twiml: %w", err)
	}
	return string(out), nil
}

func (c *TwilioClient) post(ctx context.Context, resource string, payload url.Values) (string, error) {
	if !c.Configured() {
		return "", errors.New("notification: twilio credentials missing")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.AccountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio %s failed: %s", resource, formatTwilioError(resp.StatusCode, body))
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("twilio %s: decode response: %w", resource, err)
	}
	return parsed.SID, nil
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}

var (
	_ SMSSender   = (*TwilioClient)(nil)
	_ VoiceCaller = (*TwilioClient)(nil)
)
