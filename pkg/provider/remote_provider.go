package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/eval"
)

const (
	authPath  = "/client/auth"
	flagsPath = "/client/flags"

	DefaultRefreshInterval = time.Minute
	requestTimeout         = 10 * time.Second
)

var errUnauthorized = errors.New("relay rejected the auth token")

type RemoteProviderConfiguration struct {
	BaseURL         string
	APIKey          string
	RefreshInterval time.Duration
}

// RemoteProvider fetches flag definitions from a relay. Definitions are
// refreshed on a schedule; the last good set keeps serving while the relay
// is unreachable or a re-authentication is in progress.
type RemoteProvider struct {
	evaluatorProvider
	Config RemoteProviderConfiguration
	Client *http.Client

	mu    sync.Mutex
	token string
	cron  *cron.Cron
}

type authRequest struct {
	APIKey string `json:"apiKey"`
}

type authResponse struct {
	AuthToken string `json:"authToken"`
}

func NewRemoteProvider(config RemoteProviderConfiguration, evaluator eval.IEvaluator) *RemoteProvider {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	return &RemoteProvider{
		evaluatorProvider: evaluatorProvider{evaluator: evaluator},
		Config:            config,
		Client:            &http.Client{Timeout: requestTimeout},
	}
}

func (rp *RemoteProvider) Initialize() error {
	if rp.Config.BaseURL == "" {
		return errors.New("no relay base url set")
	}
	if rp.Config.APIKey == "" {
		return errors.New("no api key set")
	}
	if err := rp.Reauthenticate(); err != nil {
		return err
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.cron = cron.New()
	err := rp.cron.AddFunc(fmt.Sprintf("@every %s", rp.Config.RefreshInterval), func() {
		if err := rp.refresh(); err != nil {
			log.WithField("relay", rp.Config.BaseURL).Errorf("unable to refresh flags: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("unable to schedule refresh: %w", err)
	}
	rp.cron.Start()
	return nil
}

// Reauthenticate obtains a fresh token and reloads the definitions with it.
func (rp *RemoteProvider) Reauthenticate() error {
	if err := rp.authenticate(); err != nil {
		return err
	}
	return rp.refresh()
}

func (rp *RemoteProvider) Close() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.cron != nil {
		rp.cron.Stop()
		rp.cron = nil
	}
	return nil
}

func (rp *RemoteProvider) authenticate() error {
	body, err := json.Marshal(authRequest{APIKey: rp.Config.APIKey})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.url(authPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rp.Client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to authenticate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unable to authenticate: relay responded %s", resp.Status)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("unable to decode auth response: %w", err)
	}
	if auth.AuthToken == "" {
		return errors.New("relay returned an empty auth token")
	}

	rp.mu.Lock()
	rp.token = auth.AuthToken
	rp.mu.Unlock()
	log.WithField("relay", rp.Config.BaseURL).Info("authenticated with relay")
	return nil
}

// refresh fetches the definitions, authenticating once more if the token
// has expired.
func (rp *RemoteProvider) refresh() error {
	err := rp.fetch()
	if errors.Is(err, errUnauthorized) {
		if err := rp.authenticate(); err != nil {
			return err
		}
		err = rp.fetch()
	}
	return err
}

func (rp *RemoteProvider) fetch() error {
	rp.mu.Lock()
	token := rp.token
	rp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rp.url(flagsPath), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := rp.Client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to fetch flags: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return errUnauthorized
	default:
		return fmt.Errorf("unable to fetch flags: relay responded %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read flags: %w", err)
	}
	notifications, err := rp.setState(rp.Config.BaseURL, string(payload))
	if err != nil {
		return err
	}
	if len(notifications) > 0 {
		log.WithFields(log.Fields{"relay": rp.Config.BaseURL, "changes": len(notifications)}).Info("Flag values updated.")
	}
	return nil
}

func (rp *RemoteProvider) url(path string) string {
	return strings.TrimRight(rp.Config.BaseURL, "/") + path
}
