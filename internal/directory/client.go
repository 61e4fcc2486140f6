package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

var (
	ErrDoctorNotFound = apperr.NotFound("Doctor not found")
	ErrUserNotFound   = apperr.NotFound("User not found")
)

// WeeklyAvailability maps a lowercase English weekday name to the slot labels
// the doctor offers on that day.
type WeeklyAvailability map[string][]string

// ContactInfo is what the dispatcher needs to reach a recipient.
type ContactInfo struct {
	Name  string
	Email string
	Phone string
}

// TokenSource supplies the service credential attached to directory calls.
type TokenSource interface {
	Token() (string, error)
}

type Config struct {
	DoctorServiceURL  string
	PatientServiceURL string
	AuthServiceURL    string
	Timeout           time.Duration
}

// Client talks to the doctor, patient and identity directories over HTTP.
type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(cfg Config, tokens TokenSource, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type profile struct {
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
	Name         string             `json:"name"`
	FirstName    string             `json:"firstName"`
	LastName     string             `json:"lastName"`
	Availability WeeklyAvailability `json:"availability"`
}

// GetAvailability returns the doctor's weekly availability map.
func (c *Client) GetAvailability(ctx context.Context, doctorID string) (WeeklyAvailability, error) {
	var p profile
	if err := c.get(ctx, c.cfg.DoctorServiceURL, "doctors", doctorID, &p); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	availability := make(WeeklyAvailability, len(p.Availability))
	for day, slots := range p.Availability {
		availability[strings.ToLower(day)] = slots
	}
	return availability, nil
}

// GetContactInfo resolves a user's contact details from the directory that
// owns the given user type. Admins are resolved through the identity service.
func (c *Client) GetContactInfo(ctx context.Context, userID, userType string) (ContactInfo, error) {
	base, resource := c.cfg.AuthServiceURL, "users"
	switch userType {
	case "patient":
		base, resource = c.cfg.PatientServiceURL, "patients"
	case "doctor":
		base, resource = c.cfg.DoctorServiceURL, "doctors"
	}

	var p profile
	if err := c.get(ctx, base, resource, userID, &p); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return ContactInfo{}, ErrUserNotFound
		}
		return ContactInfo{}, err
	}

	name := p.Name
	if name == "" {
		name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	return ContactInfo{Name: name, Email: p.Email, Phone: p.Phone}, nil
}

func (c *Client) get(ctx context.Context, base, resource, id string, out *profile) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), resource, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.Internal("build directory request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return apperr.Dependency("Directory service unavailable", fmt.Errorf("service token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("directory request failed", "resource", resource, "id", id, "error", err)
		return apperr.Dependency("Directory service unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Dependency("Directory service unavailable", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(resource + " not found")
	case resp.StatusCode >= 300:
		c.logger.Warn("directory returned error status", "resource", resource, "id", id, "status", resp.StatusCode)
		return apperr.Dependency("Directory service unavailable", fmt.Errorf("%s/%s: status %d", resource, id, resp.StatusCode))
	}

	if err := decodeProfile(body, out); err != nil {
		return apperr.Dependency("Directory service unavailable", err)
	}
	return nil
}

// decodeProfile accepts either a bare profile or one wrapped in {"data": ...}.
func decodeProfile(body []byte, out *profile) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	if len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		body = envelope.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode directory profile: %w", err)
	}
	return nil
}
