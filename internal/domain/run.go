package domain

import "time"

// Run es la identidad monotónica de un ciclo de vida del daemon; todos los
// registros quedan anclados a ella.
type Run struct {
	RunID       string
	StartedAt   time.Time
	ClosedAt    time.Time
	GitSHA      string
	ConfigHash  string
	Host        string
}

// NewRun crea un Run abierto, grounded en original_source/crates/storage's
// insert_run(run_id, git_sha).
func NewRun(gitSHA, configHash, host string) Run {
	return Run{
		RunID:      NewID(),
		StartedAt:  time.Now().UTC(),
		GitSHA:     gitSHA,
		ConfigHash: configHash,
		Host:       host,
	}
}
