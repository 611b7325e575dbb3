package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

var (
	ErrInvalidProvider  = errors.New("invalid notification provider")
	ErrProviderNotFound = errors.New("notification provider not found")
)

// NotificationService fans alerts out to the enabled external providers.
// Delivery is asynchronous; Wait blocks until in-flight sends finish.
type NotificationService struct {
	DB *gorm.DB

	// Static shoutrrr URLs that receive every alert, in addition to the
	// providers stored in the database.
	StaticURLs []string

	send   func(url, message string) error
	client *http.Client
	wg     sync.WaitGroup
}

func NewNotificationService(db *gorm.DB, staticURLs ...string) *NotificationService {
	return &NotificationService{
		DB:         db,
		StaticURLs: staticURLs,
		send: func(url, message string) error {
			return shoutrrr.Send(url, message)
		},
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			id := matches[1]
			token := matches[2]
			return fmt.Sprintf("discord://%s@%s", token, id)
		}
	}
	return rawURL
}

func shouldNotify(p models.NotificationProvider, a *models.SecurityAlert) bool {
	if a.Kind == string(threat.KindHoneypot) && !p.NotifyHoneypot {
		return false
	}
	if a.Source == models.AlertSourceAnomaly && !p.NotifyAnomaly {
		return false
	}
	floor, err := threat.ParseSeverity(p.MinSeverity)
	if err != nil {
		floor = threat.SeverityHigh
	}
	sev, err := threat.ParseSeverity(a.Severity)
	if err != nil {
		return false
	}
	return sev >= floor
}

func alertMessage(a *models.SecurityAlert) string {
	return fmt.Sprintf("%s\n\nseverity: %s\nsource: %s\nkind: %s\n%s",
		a.Title, a.Severity, a.SourceAddress, a.Kind, a.Details)
}

// CreateAlert sends a to every provider that wants it. Errors are logged;
// the call itself only fails when providers cannot be listed.
func (s *NotificationService) CreateAlert(ctx context.Context, a *models.SecurityAlert) error {
	if a == nil {
		return nil
	}
	var providers []models.NotificationProvider
	if s.DB != nil {
		if err := s.DB.WithContext(ctx).Where("enabled = ?", true).Find(&providers).Error; err != nil {
			return fmt.Errorf("list notification providers: %w", err)
		}
	}
	msg := alertMessage(a)
	log := logger.WithFields(logrus.Fields{"alert": a.UUID, "source_ip": util.SanitizeForLog(a.SourceAddress)})

	for _, url := range s.StaticURLs {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			if err := s.send(url, msg); err != nil {
				log.WithError(err).Warn("Failed to send alert notification")
			}
		}(url)
	}

	for _, provider := range providers {
		if !shouldNotify(provider, a) {
			continue
		}
		s.wg.Add(1)
		go func(p models.NotificationProvider) {
			defer s.wg.Done()
			plog := log.WithField("provider", p.Name)
			if p.Type == "webhook" {
				if err := s.sendWebhook(p, a); err != nil {
					plog.WithError(err).Warn("Failed to send alert webhook")
				}
				return
			}
			url := normalizeURL(p.Type, p.URL)
			if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
				if _, err := validateWebhookURL(url); err != nil {
					plog.Warn("Skipping notification due to invalid destination")
					return
				}
			}
			if err := s.send(url, msg); err != nil {
				plog.WithError(err).Warn("Failed to send alert notification")
			}
		}(provider)
	}
	return nil
}

// Wait blocks until all in-flight notifications are done.
func (s *NotificationService) Wait() { s.wg.Wait() }

func (s *NotificationService) sendWebhook(p models.NotificationProvider, a *models.SecurityAlert) error {
	u, err := validateWebhookURL(p.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"title":          a.Title,
		"severity":       a.Severity,
		"kind":           a.Kind,
		"source":         a.Source,
		"source_address": a.SourceAddress,
		"event_count":    a.EventCount,
		"details":        a.Details,
		"time":           a.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// isPrivateIP returns true for RFC1918, loopback and link-local addresses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() {
		return true
	}
	return false
}

// validateWebhookURL parses and validates webhook URLs and ensures
// the resolved addresses are not private/local.
func validateWebhookURL(raw string) (*neturl.URL, error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	// Allow explicit loopback/localhost addresses for local tests.
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return u, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("disallowed host IP: %s", ip.String())
		}
	}
	return u, nil
}

// Provider Management

func (s *NotificationService) ListProviders(ctx context.Context) ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	result := s.DB.WithContext(ctx).Find(&providers)
	return providers, result.Error
}

func (s *NotificationService) CreateProvider(ctx context.Context, provider *models.NotificationProvider) error {
	if _, err := threat.ParseSeverity(provider.MinSeverity); provider.MinSeverity != "" && err != nil {
		return fmt.Errorf("%w: min severity: %v", ErrInvalidProvider, err)
	}
	if strings.TrimSpace(provider.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidProvider)
	}
	if provider.Type == "webhook" {
		if _, err := validateWebhookURL(provider.URL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProvider, err)
		}
	}
	return s.DB.WithContext(ctx).Create(provider).Error
}

func (s *NotificationService) DeleteProvider(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&models.NotificationProvider{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}
