package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/apierror"
	"github.com/sells-group/outreach-cli/pkg/instantly"
	"github.com/sells-group/outreach-cli/pkg/plusvibe"
)

// Sender names.
const (
	SenderInstantly = "instantly"
	SenderPlusvibe  = "plusvibe"
)

// Status is what the destination reported for one lead.
type Status string

const (
	StatusCreated  Status = "created"
	StatusExisting Status = "existing"
	StatusRejected Status = "rejected"
)

// Lead is one send request: a resolved recipient and the composed intro.
type Lead struct {
	Fingerprint string
	Side        model.Side
	Email       string
	FirstName   string
	LastName    string
	Company     string
	Intro       string
}

// SendResult is the destination's answer for one accepted request.
type SendResult struct {
	Success bool
	Status  Status
	Detail  string
}

// Sender delivers leads to one campaign provider. SendLead returns an error
// only when the request itself failed; rate-limit responses come back as
// *resilience.RateLimitError.
type Sender interface {
	Name() string
	ValidateConfig(cfg config.CampaignConfig) error
	SendLead(ctx context.Context, cfg config.CampaignConfig, lead Lead) (SendResult, error)
}

// DefaultCallTimeout bounds one provider request.
const DefaultCallTimeout = 30 * time.Second

// Limits are a provider's documented ceilings.
type Limits struct {
	Windows     []Window
	RPS         float64
	MaxInFlight int
	CallTimeout time.Duration
}

// LimitsFor returns the ceilings for a sender.
func LimitsFor(name string) Limits {
	switch name {
	case SenderPlusvibe:
		return Limits{RPS: 5, MaxInFlight: 5}
	default:
		return Limits{
			Windows: []Window{
				{Max: 80, Per: 10 * time.Second},
				{Max: 480, Per: time.Minute},
			},
			MaxInFlight: 5,
		}
	}
}

// campaignFor returns the campaign ID for a side.
func campaignFor(cfg config.CampaignConfig, side model.Side) string {
	if side == model.SideSupply {
		return cfg.SupplyCampaignID
	}
	return cfg.DemandCampaignID
}

func validateCommon(name string, cfg config.CampaignConfig) error {
	if strings.TrimSpace(cfg.Key) == "" {
		return eris.Errorf("dispatch: %s api key is not configured", name)
	}
	if cfg.DemandCampaignID == "" && cfg.SupplyCampaignID == "" {
		return eris.Errorf("dispatch: %s has no campaign configured for either side", name)
	}
	return nil
}

// classify turns a provider 429 into a RateLimitError carrying Retry-After.
func classify(err error) error {
	var ae *apierror.Error
	if errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests {
		return resilience.NewRateLimitError(err, ae.RetryAfter)
	}
	if s := apierror.Status(err); resilience.IsTransientHTTPStatus(s) {
		return resilience.NewTransientError(err, s)
	}
	return err
}

// Instantly sends leads through the Instantly API.
type Instantly struct {
	Client instantly.Client
}

func (s *Instantly) Name() string { return SenderInstantly }

func (s *Instantly) ValidateConfig(cfg config.CampaignConfig) error {
	return validateCommon(SenderInstantly, cfg)
}

func (s *Instantly) SendLead(ctx context.Context, cfg config.CampaignConfig, lead Lead) (SendResult, error) {
	resp, err := s.Client.AddLeads(ctx, instantly.AddLeadsRequest{
		CampaignID:       campaignFor(cfg, lead.Side),
		SkipIfInCampaign: true,
		Leads: []instantly.Lead{{
			Email:           lead.Email,
			FirstName:       lead.FirstName,
			LastName:        lead.LastName,
			CompanyName:     lead.Company,
			Personalization: lead.Intro,
			CustomVariables: map[string]string{"fingerprint": lead.Fingerprint, "side": string(lead.Side)},
		}},
	})
	if err != nil {
		return SendResult{}, classify(err)
	}
	switch {
	case resp.LeadsUploaded > 0:
		return SendResult{Success: true, Status: StatusCreated}, nil
	case resp.DuplicatedLeads > 0 || resp.SkippedCount > 0:
		return SendResult{Success: true, Status: StatusExisting}, nil
	case resp.InvalidEmailCount > 0:
		return SendResult{Status: StatusRejected, Detail: "provider rejected the email address"}, nil
	default:
		return SendResult{Status: StatusRejected, Detail: "provider accepted no leads"}, nil
	}
}

// Plusvibe sends leads through the Plusvibe API.
type Plusvibe struct {
	Client plusvibe.Client
}

func (s *Plusvibe) Name() string { return SenderPlusvibe }

func (s *Plusvibe) ValidateConfig(cfg config.CampaignConfig) error {
	if err := validateCommon(SenderPlusvibe, cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.WorkspaceID) == "" {
		return eris.New("dispatch: plusvibe workspace_id is not configured")
	}
	return nil
}

func (s *Plusvibe) SendLead(ctx context.Context, cfg config.CampaignConfig, lead Lead) (SendResult, error) {
	resp, err := s.Client.AddLeads(ctx, plusvibe.AddLeadsRequest{
		WorkspaceID:       cfg.WorkspaceID,
		CampaignID:        campaignFor(cfg, lead.Side),
		SkipIfInWorkspace: true,
		Leads: []plusvibe.Lead{{
			Email:       lead.Email,
			FirstName:   lead.FirstName,
			LastName:    lead.LastName,
			CompanyName: lead.Company,
			Intro:       lead.Intro,
		}},
	})
	if err != nil {
		return SendResult{}, classify(err)
	}
	switch {
	case resp.LeadsUploaded > 0:
		return SendResult{Success: true, Status: StatusCreated}, nil
	case resp.AlreadyExists > 0:
		return SendResult{Success: true, Status: StatusExisting}, nil
	case resp.InvalidEmails > 0:
		return SendResult{Status: StatusRejected, Detail: "provider rejected the email address"}, nil
	default:
		return SendResult{Status: StatusRejected, Detail: "provider accepted no leads"}, nil
	}
}

// NewSender builds the configured sender.
func NewSender(cfg *config.Config) (Sender, error) {
	c := cfg.Campaign()
	switch cfg.Dispatch.Provider {
	case SenderPlusvibe:
		var opts []plusvibe.Option
		if c.BaseURL != "" {
			opts = append(opts, plusvibe.WithBaseURL(c.BaseURL))
		}
		return &Plusvibe{Client: plusvibe.NewClient(c.Key, opts...)}, nil
	case SenderInstantly, "":
		var opts []instantly.Option
		if c.BaseURL != "" {
			opts = append(opts, instantly.WithBaseURL(c.BaseURL))
		}
		return &Instantly{Client: instantly.NewClient(c.Key, opts...)}, nil
	default:
		return nil, eris.Errorf("dispatch: unknown provider %q", cfg.Dispatch.Provider)
	}
}
