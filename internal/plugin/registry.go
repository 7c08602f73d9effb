package plugin

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/signing"
)

const manifestExt = ".json"

// ErrRouteNotFound is returned when no verified plugin claims a command.
var ErrRouteNotFound = errors.New("plugin route not found")

// Record is a plugin whose manifest loaded successfully.
type Record struct {
	Manifest       Manifest       `json:"manifest"`
	ManifestPath   string         `json:"manifest_path"`
	ExecutablePath string         `json:"executable_path"`
	Status         signing.Status `json:"signature_status"`
	// Digest is the BLAKE3 hex digest of the executable at load time.
	Digest string `json:"digest"`
}

// Name returns the plugin name.
func (r *Record) Name() string { return r.Manifest.Name }

// Reason classifies why a plugin was kept out of the routing table.
type Reason string

const (
	ReasonManifestInvalid  Reason = "ManifestInvalid"
	ReasonUntrusted        Reason = "Untrusted"
	ReasonSignatureMissing Reason = "SignatureMissing"
	ReasonSignatureInvalid Reason = "SignatureInvalid"
)

// Exclusion records a plugin that is not routable.
type Exclusion struct {
	Path   string `json:"path"`
	Plugin string `json:"plugin,omitempty"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Collision records two or more verified plugins claiming one command.
type Collision struct {
	Command   string   `json:"command"`
	Claimants []string `json:"claimants"`
	// Winner is empty when the command was dropped under the reject policy.
	Winner string `json:"winner,omitempty"`
}

// CommandInfo describes one routable command.
type CommandInfo struct {
	Command     string `json:"command"`
	Plugin      string `json:"plugin"`
	Description string `json:"description"`
}

// RoutingTable maps lower-cased commands to verified records. It is never mutated after
// construction.
type RoutingTable struct {
	routes map[string]*Record
}

// Resolve returns the record that handles cmd.
func (t *RoutingTable) Resolve(cmd string) (*Record, error) {
	rec, ok := t.routes[strings.ToLower(cmd)]
	if !ok {
		return nil, fmt.Errorf("%w: /%s", ErrRouteNotFound, strings.ToLower(cmd))
	}
	return rec, nil
}

// Commands lists routable commands sorted by name.
func (t *RoutingTable) Commands() []CommandInfo {
	out := make([]CommandInfo, 0, len(t.routes))
	for cmd, rec := range t.routes {
		out = append(out, CommandInfo{Command: cmd, Plugin: rec.Name(), Description: rec.Manifest.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Len returns the number of routable commands.
func (t *RoutingTable) Len() int { return len(t.routes) }

// Snapshot is the complete result of one directory scan.
type Snapshot struct {
	Table      *RoutingTable
	Records    []*Record
	Exclusions []Exclusion
	Collisions []Collision
	LoadedAt   time.Time
}

// ExclusionCounts tallies exclusions by reason.
func (s *Snapshot) ExclusionCounts() map[string]int {
	out := make(map[string]int, len(s.Exclusions))
	for _, e := range s.Exclusions {
		out[string(e.Reason)]++
	}
	return out
}

// Options controls a directory scan.
type Options struct {
	Dir        string
	TrustedKey ed25519.PublicKey
	// Collisions is config.CollisionLastWins (default) or config.CollisionReject.
	Collisions string
	Logger     *slog.Logger
}

// Load scans opts.Dir for <name>.json manifests, verifies each adjacent executable, and
// builds a routing table from the verified ones. Problems with individual plugins are
// logged and recorded, never returned. Only an unreadable directory is an error.
func Load(opts Options) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	snap := emptySnapshot()

	absDir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin dir %q: %w", opts.Dir, err)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin dir %s: %w", absDir, err)
	}

	// os.ReadDir returns entries sorted by file name, which fixes collision order.
	claims := map[string][]*Record{}
	var order []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != manifestExt {
			continue
		}
		manifestPath := filepath.Join(absDir, entry.Name())
		rec, excl := loadRecord(manifestPath, absDir, opts.TrustedKey)
		if rec != nil {
			snap.Records = append(snap.Records, rec)
		}
		if excl != nil {
			snap.Exclusions = append(snap.Exclusions, *excl)
			logExclusion(logger, *excl)
			continue
		}

		logger.Info("registered plugin", "plugin", rec.Name(), "version", rec.Manifest.Version,
			"commands", rec.Manifest.Commands, "digest", rec.Digest)
		for _, cmd := range rec.Manifest.Commands {
			if _, ok := claims[cmd]; !ok {
				order = append(order, cmd)
			}
			claims[cmd] = append(claims[cmd], rec)
		}
	}

	for _, cmd := range order {
		recs := claims[cmd]
		if len(recs) == 1 {
			snap.Table.routes[cmd] = recs[0]
			continue
		}

		names := make([]string, len(recs))
		for i, r := range recs {
			names[i] = r.Name()
		}
		collision := Collision{Command: cmd, Claimants: names}
		if opts.Collisions == config.CollisionReject {
			logger.Warn("command claimed by multiple plugins, dropping it", "command", cmd, "claimants", names)
		} else {
			winner := recs[len(recs)-1]
			snap.Table.routes[cmd] = winner
			collision.Winner = winner.Name()
			logger.Warn("command claimed by multiple plugins, last registered wins",
				"command", cmd, "claimants", names, "winner", winner.Name())
		}
		snap.Collisions = append(snap.Collisions, collision)
	}

	logger.Info("plugin registry loaded", "dir", absDir, "commands", snap.Table.Len(),
		"records", len(snap.Records), "excluded", len(snap.Exclusions))
	return snap, nil
}

// loadRecord returns the record (nil if the manifest itself is unusable) and the reason it
// is not routable (nil if it is Verified).
func loadRecord(manifestPath, dir string, key ed25519.PublicKey) (*Record, *Exclusion) {
	stem := strings.TrimSuffix(filepath.Base(manifestPath), manifestExt)
	exclude := func(rec *Record, reason Reason, detail string) (*Record, *Exclusion) {
		e := &Exclusion{Path: manifestPath, Reason: reason, Detail: detail}
		if rec != nil {
			e.Plugin = rec.Name()
		}
		return rec, e
	}

	m, err := readManifest(manifestPath)
	if err != nil {
		return exclude(nil, ReasonManifestInvalid, err.Error())
	}
	if m.Name != stem {
		return exclude(nil, ReasonManifestInvalid,
			fmt.Sprintf("name %q does not match executable %q", m.Name, stem))
	}

	exePath := filepath.Join(dir, stem)
	if _, err := os.Stat(exePath); err != nil {
		return exclude(nil, ReasonManifestInvalid, fmt.Sprintf("executable missing: %v", err))
	}
	if err := validateTrust(exePath, dir); err != nil {
		return exclude(nil, ReasonUntrusted, err.Error())
	}

	rec := &Record{Manifest: *m, ManifestPath: manifestPath, ExecutablePath: exePath}
	if digest, err := signing.Digest(exePath); err == nil {
		rec.Digest = digest
	}

	status, err := signing.VerifyFile(exePath, exePath+".sig", key)
	rec.Status = status
	switch status {
	case signing.Verified:
		return rec, nil
	case signing.Unverified:
		return exclude(rec, ReasonSignatureMissing, "no signature file "+filepath.Base(exePath)+".sig")
	default:
		detail := "signature does not match executable"
		if err != nil {
			detail = err.Error()
		}
		return exclude(rec, ReasonSignatureInvalid, detail)
	}
}

func logExclusion(logger *slog.Logger, e Exclusion) {
	switch e.Reason {
	case ReasonSignatureMissing:
		logger.Warn("plugin not signed, excluded from routing", "plugin", e.Plugin, "path", e.Path)
	case ReasonSignatureInvalid:
		logger.Warn("plugin signature invalid, excluded from routing", "plugin", e.Plugin, "path", e.Path, "detail", e.Detail)
	default:
		logger.Warn("plugin manifest rejected", "reason", string(e.Reason), "path", e.Path, "detail", e.Detail)
	}
}

// Registry is the process-wide handle on the current snapshot. Readers never block;
// Reload builds a fresh snapshot and swaps it in atomically.
type Registry struct {
	opts     Options
	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

// NewRegistry performs the initial scan. A directory that cannot be read is logged and
// leaves the registry empty, so every command resolves to ErrRouteNotFound until a
// Reload succeeds.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{opts: opts}
	if _, err := r.Reload(); err != nil {
		opts.Logger.Error("plugin scan failed, starting with no plugins", "dir", opts.Dir, "error", err)
		r.current.Store(emptySnapshot())
	}
	return r
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Table: &RoutingTable{routes: map[string]*Record{}}, LoadedAt: time.Now()}
}

// Reload rescans the plugin directory. On error the live snapshot is left untouched.
func (r *Registry) Reload() (*Snapshot, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	snap, err := Load(r.opts)
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)
	return snap, nil
}

// Snapshot returns the live snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Resolve returns the verified record for cmd or ErrRouteNotFound.
func (r *Registry) Resolve(cmd string) (*Record, error) {
	return r.Snapshot().Table.Resolve(cmd)
}

// Commands lists the routable commands.
func (r *Registry) Commands() []CommandInfo {
	return r.Snapshot().Table.Commands()
}

// Records lists every plugin whose manifest loaded, verified or not.
func (r *Registry) Records() []*Record {
	return r.Snapshot().Records
}
