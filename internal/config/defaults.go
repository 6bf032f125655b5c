package config

// defaultResilience returns the resilience defaults applied when the
// manifest's `resilience:` section is absent or partially specified.
func defaultResilience() ResilienceConfig {
	return ResilienceConfig{
		Preflight: PreflightConfig{
			Enabled:            true,
			DiskSpaceThreshold: "2GB",
			CleanOrphans:       true,
		},
		Container: ContainerResilienceConfig{
			RestartOnFailure: true,
			MaxRestarts:      3,
			RestartDelay:     "2s",
			RestartBackoff:   BackoffExponential,
		},
		Network: NetworkResilienceConfig{
			PortConflictStrategy: PortStrategyAuto,
			VerifyConnectivity:   true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeoutMs:   30000,
		},
	}
}

// applyDefaults fills in every optional field of a loaded Project that was
// left unset. Most fields are filled one by one. The resilience preflight
// block (when not enabled and without diskSpaceThreshold), container block
// (without restartDelay) and circuitBreaker block (without failureThreshold)
// are replaced whole by their defaults, so other fields set in such a block
// are not kept.
func applyDefaults(p *Project) {
	if p.Version == "" {
		p.Version = "1"
	}
	if p.Network.Name == "" {
		p.Network.Name = "e2e-network"
	}
	if p.Dashboard.Port == 0 {
		p.Dashboard.Port = 9095
	}
	if p.Dashboard.UIPort == 0 {
		p.Dashboard.UIPort = 9091
	}
	if p.Parallel.Concurrency == 0 {
		p.Parallel.Concurrency = 4
	}
	if p.History.FlakyWindow == 0 {
		p.History.FlakyWindow = 10
	}
	if p.History.Storage == "" {
		p.History.Storage = HistoryStorageLocal
	}
	if p.History.Retention.MaxAge == "" {
		p.History.Retention.MaxAge = "90d"
	}
	if p.History.Retention.MaxRuns == 0 {
		p.History.Retention.MaxRuns = 500
	}

	def := defaultResilience()
	res := &p.Resilience
	if !res.Preflight.Enabled && res.Preflight.DiskSpaceThreshold == "" {
		res.Preflight = def.Preflight
	}
	if res.Container.RestartDelay == "" {
		res.Container = def.Container
	}
	if !res.Network.VerifyConnectivity && res.Network.PortConflictStrategy == "" {
		res.Network.VerifyConnectivity = def.Network.VerifyConnectivity
	}
	if res.Network.PortConflictStrategy == "" {
		res.Network.PortConflictStrategy = def.Network.PortConflictStrategy
	}
	if res.CircuitBreaker.FailureThreshold == 0 {
		res.CircuitBreaker = def.CircuitBreaker
	}

	for name, m := range p.Mocks {
		if m.Mode == "" {
			m.Mode = MockModeAuto
			p.Mocks[name] = m
		}
	}
}
