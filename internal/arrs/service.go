// Package arrs checks the Radarr and Sonarr instances listed in the client
// configuration directly, next to the diagnostics the server reports.
package arrs

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/javi11/mediajanitor/internal/config"
	"github.com/sourcegraph/conc/pool"
	"golift.io/starr"
	"golift.io/starr/radarr"
	"golift.io/starr/sonarr"
)

// Instance types.
const (
	TypeRadarr = "radarr"
	TypeSonarr = "sonarr"
)

const maxConcurrentChecks = 4

// ConfigInstance represents an arrs instance from configuration
type ConfigInstance struct {
	Name    string
	Type    string
	URL     string
	APIKey  string
	Enabled bool
}

// InstanceStatus is the outcome of one connection check.
type InstanceStatus struct {
	Name      string
	Type      string
	URL       string
	Connected bool
	Version   string
	Error     string
	Latency   time.Duration
}

// Service checks configured *arr instances.
type Service struct {
	configGetter  config.ConfigGetter
	mu            sync.Mutex
	radarrClients map[string]cachedClient[*radarr.Radarr] // key: instance name
	sonarrClients map[string]cachedClient[*sonarr.Sonarr] // key: instance name
	log           *slog.Logger
}

// cachedClient remembers the settings a client was built with.
type cachedClient[T any] struct {
	client T
	url    string
	apiKey string
}

func (c cachedClient[T]) matches(instance ConfigInstance) bool {
	return c.url == instance.URL && c.apiKey == instance.APIKey
}

// NewService creates a service reading instances from configGetter on every check.
func NewService(configGetter config.ConfigGetter) *Service {
	return &Service{
		configGetter:  configGetter,
		radarrClients: make(map[string]cachedClient[*radarr.Radarr]),
		sonarrClients: make(map[string]cachedClient[*sonarr.Sonarr]),
		log:           slog.Default().With("component", "arrs-service"),
	}
}

// Instances returns every configured instance, enabled or not.
func (s *Service) Instances() []ConfigInstance {
	cfg := s.configGetter()
	instances := make([]ConfigInstance, 0, len(cfg.Arrs.RadarrInstances)+len(cfg.Arrs.SonarrInstances))

	for _, rc := range cfg.Arrs.RadarrInstances {
		instances = append(instances, ConfigInstance{
			Name: rc.Name, Type: TypeRadarr, URL: rc.URL, APIKey: rc.APIKey, Enabled: rc.IsEnabled(),
		})
	}
	for _, sc := range cfg.Arrs.SonarrInstances {
		instances = append(instances, ConfigInstance{
			Name: sc.Name, Type: TypeSonarr, URL: sc.URL, APIKey: sc.APIKey, Enabled: sc.IsEnabled(),
		})
	}

	return instances
}

// TestConnections checks every enabled instance concurrently. Results are
// ordered by type then name.
func (s *Service) TestConnections(ctx context.Context) []InstanceStatus {
	timeout := s.configGetter().GetRequestTimeout()

	p := pool.NewWithResults[InstanceStatus]().WithMaxGoroutines(maxConcurrentChecks)
	for _, instance := range s.Instances() {
		if !instance.Enabled {
			continue
		}
		p.Go(func() InstanceStatus {
			return s.check(ctx, instance, timeout)
		})
	}

	results := p.Wait()
	slices.SortFunc(results, func(a, b InstanceStatus) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Name, b.Name))
	})

	return results
}

func (s *Service) check(ctx context.Context, instance ConfigInstance, timeout time.Duration) InstanceStatus {
	status := InstanceStatus{Name: instance.Name, Type: instance.Type, URL: instance.URL}
	started := time.Now()

	version, err := s.TestConnection(ctx, instance, timeout)
	status.Latency = time.Since(started)
	if err != nil {
		status.Error = err.Error()
		s.log.WarnContext(ctx, "Instance check failed", "instance", instance.Name, "type", instance.Type, "error", err)
		return status
	}

	status.Connected = true
	status.Version = version
	return status
}

// TestConnection queries the system status of one instance and returns its version.
func (s *Service) TestConnection(ctx context.Context, instance ConfigInstance, timeout time.Duration) (string, error) {
	switch instance.Type {
	case TypeRadarr:
		client := s.getOrCreateRadarrClient(instance, timeout)
		st, err := client.GetSystemStatusContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to connect to Radarr: %w", err)
		}
		return st.Version, nil

	case TypeSonarr:
		client := s.getOrCreateSonarrClient(instance, timeout)
		st, err := client.GetSystemStatusContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to connect to Sonarr: %w", err)
		}
		return st.Version, nil

	default:
		return "", fmt.Errorf("unsupported instance type: %s", instance.Type)
	}
}

// getOrCreateRadarrClient gets or creates a Radarr client for an instance.
// A changed URL or key replaces the cached client.
func (s *Service) getOrCreateRadarrClient(instance ConfigInstance, timeout time.Duration) *radarr.Radarr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, exists := s.radarrClients[instance.Name]; exists && cached.matches(instance) {
		return cached.client
	}

	client := radarr.New(starr.New(instance.APIKey, instance.URL, timeout))
	s.radarrClients[instance.Name] = cachedClient[*radarr.Radarr]{client: client, url: instance.URL, apiKey: instance.APIKey}
	return client
}

// getOrCreateSonarrClient gets or creates a Sonarr client for an instance.
func (s *Service) getOrCreateSonarrClient(instance ConfigInstance, timeout time.Duration) *sonarr.Sonarr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, exists := s.sonarrClients[instance.Name]; exists && cached.matches(instance) {
		return cached.client
	}

	client := sonarr.New(starr.New(instance.APIKey, instance.URL, timeout))
	s.sonarrClients[instance.Name] = cachedClient[*sonarr.Sonarr]{client: client, url: instance.URL, apiKey: instance.APIKey}
	return client
}
