package audit

import (
	"bufio"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/matcher"
)

// Signer optionally signs every record as it's appended. A Chain with a
// nil Signer writes unsigned records — Signature/SigningKeyID stay
// empty, and Verify reports those records as Unverified rather than
// Invalid.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	KeyID      string
}

// Chain is one session's hash-chained audit log: a single append-only
// JSONL file, plus an optional SQLite index for fast Filter queries.
//
// Thread-safe — Record and Filter take a local mutex; there is exactly
// one Chain per session per process, and one process per session log
// (single-writer storage).
type Chain struct {
	mu          sync.Mutex
	path        string
	sessionID   string
	prevHash    string
	recordCount int
	signer      *Signer
	index       *sqliteIndex
	log         *zap.Logger
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithSigner attaches a signing key; every record appended after this is
// set gets signed.
func WithSigner(priv ed25519.PrivateKey, keyID string) Option {
	return func(c *Chain) {
		c.signer = &Signer{PrivateKey: priv, KeyID: keyID}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Chain) {
		if log != nil {
			c.log = log
		}
	}
}

// WithIndex opens a SQLite index at indexPath that Filter consults to
// select matching record IDs. If the index can't be opened, Chain
// construction still succeeds and Filter matches on the parsed records
// alone: the log itself has no fallback
// and stays fatal-on-unavailable, but the index is only a queryable
// projection, not the source of truth.
func WithIndex(indexPath string) Option {
	return func(c *Chain) {
		idx, err := openIndex(indexPath)
		if err != nil {
			if c.log == nil {
				c.log = zap.NewNop()
			}
			c.log.Warn("audit index unavailable, falling back to full-scan filter", zap.Error(err))
			return
		}
		c.index = idx
	}
}

// Open opens (or creates) the audit log for sessionID in dir. If the
// log file already exists it's read back to recover recordCount and the
// chain tip: prevHash becomes sha256(last-line-bytes)[:16], or
// "genesis" for an empty or missing log.
func Open(dir, sessionID string, opts ...Option) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory %s: %w", dir, err)
	}

	c := &Chain{
		path:      filepath.Join(dir, sessionID+".jsonl"),
		sessionID: sessionID,
		prevHash:  Genesis,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.recoverState(); err != nil {
		return nil, err
	}

	return c, nil
}

// Close releases the underlying index, if any.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index.close()
	}
	return nil
}

// RecordCount returns the number of records currently in the chain.
func (c *Chain) RecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordCount
}

// RecordInput bundles everything Record needs beyond the chain's own
// state (sessionId, actionIndex, prevHash come from the Chain/caller).
type RecordInput struct {
	R6RequestID string
	ActionIndex uint64
	Tool        string
	Category    string
	Target      string
	Targets     []string
	Result      Result
}

// Record assembles, signs (if configured), and durably appends exactly
// one AuditRecord. An append failure is surfaced to the caller — a
// silently-lost record is worse than a raised error.
func (c *Chain) Record(in RecordInput) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := Record{
		RecordID:    "audit:" + strings.TrimPrefix(in.R6RequestID, "r6:"),
		R6RequestID: in.R6RequestID,
		Timestamp:   time.Now().UTC(),
		Tool:        in.Tool,
		Category:    in.Category,
		Target:      in.Target,
		Targets:     in.Targets,
		Result:      in.Result,
		Provenance: Provenance{
			SessionID:      c.sessionID,
			ActionIndex:    in.ActionIndex,
			PrevRecordHash: c.prevHash,
		},
	}

	if c.signer != nil {
		signed, err := signRecord(rec, c.signer.PrivateKey, c.signer.KeyID)
		if err != nil {
			return Record{}, fmt.Errorf("signing audit record: %w", err)
		}
		rec = signed
	}

	line, err := serialize(rec)
	if err != nil {
		return Record{}, fmt.Errorf("serializing audit record: %w", err)
	}

	if err := c.appendLine(line); err != nil {
		return Record{}, fmt.Errorf("appending audit record: %w", err)
	}

	c.prevHash = prevHashOf(line)
	c.recordCount++

	if c.index != nil {
		if err := c.index.insert(&rec); err != nil {
			c.log.Warn("audit index insert failed", zap.Error(err))
		}
	}

	return rec, nil
}

// appendLine opens the log file in append mode, writes line+"\n", and
// fsyncs before returning — durability is file-append-with-flush, and
// callers require read-after-write visibility.
func (c *Chain) appendLine(line []byte) error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// recoverState scans the existing log file (if any) to recompute
// recordCount and prevHash, so a restarted process continues the chain
// correctly.
func (c *Chain) recoverState() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening audit log %s: %w", c.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	count := 0
	var lastLine []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		count++
		lastLine = append([]byte{}, line...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading audit log %s: %w", c.path, err)
	}

	c.recordCount = count
	if lastLine != nil {
		c.prevHash = prevHashOf(lastLine)
	}
	return nil
}

// PublicKeyLookup resolves a signingKeyId to the public key that should
// have produced it, for Verify.
type PublicKeyLookup func(keyID string) (ed25519.PublicKey, bool)

// Verify streams the log line by line, rebuilding the hash chain and,
// where a public key is available, checking every signature. It never
// mutates the log and is idempotent: two calls against an unchanged log
// produce identical reports.
func (c *Chain) Verify(lookup PublicKeyLookup) (VerifyResult, error) {
	lines, err := c.readLines()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading audit log for verification: %w", err)
	}

	result := VerifyResult{Valid: true, RecordCount: len(lines)}
	prev := Genesis

	for i, line := range lines {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: parse error: %v", i, err))
			// The raw bytes still anchor the next link, so the walk
			// continues best-effort past an unparseable line.
			prev = prevHashOf(line)
			continue
		}

		if rec.Provenance.PrevRecordHash != prev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: prevRecordHash mismatch: got %q, want %q", i, rec.Provenance.PrevRecordHash, prev))
		}

		if rec.Signature != "" {
			result.SignatureStats.Signed++
			if lookup != nil {
				if pub, ok := lookup(rec.SigningKeyID); ok {
					if verifySignature(rec, pub) {
						result.SignatureStats.Verified++
					} else {
						result.SignatureStats.Invalid++
						result.Valid = false
						result.Errors = append(result.Errors, fmt.Sprintf("record %d: invalid signature", i))
					}
					prev = prevHashOf(line)
					continue
				}
			}
			result.SignatureStats.Unverified++
		}

		prev = prevHashOf(line)
	}

	return result, nil
}

// readLines reads every non-blank line of the log as exact raw bytes —
// prevRecordHash is computed over the bytes actually on disk, so hashing
// a parsed-and-reserialized form would silently diverge.
func (c *Chain) readLines() ([][]byte, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		lines = append(lines, append([]byte{}, raw...))
	}
	return lines, scanner.Err()
}

// readAll parses every line of the log. Unlike Verify, which walks lines
// best-effort, a query over a log that fails to parse is an error.
func (c *Chain) readAll() ([]Record, error) {
	lines, err := c.readLines()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parsing audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Filter returns records matching criteria. It always reads and parses
// the whole log; when a SQLite index is attached and the criteria has no
// glob Target (the index doesn't do pattern matching), the index query
// supplies the set of record IDs to keep, and the field checks below
// still apply to every record.
func (c *Chain) Filter(criteria FilterCriteria) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	since, err := parseSince(criteria.Since)
	if err != nil {
		return nil, err
	}

	records, err := c.readAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log for filter: %w", err)
	}

	var wanted map[string]bool
	if c.index != nil && criteria.Target == "" {
		sinceISO := ""
		if !since.IsZero() {
			sinceISO = since.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
		}
		ids, err := c.index.recordIDs(indexQuery{
			SessionID: c.sessionID,
			Tool:      criteria.Tool,
			Category:  criteria.Category,
			Status:    string(criteria.Status),
			SinceISO:  sinceISO,
		})
		if err == nil {
			wanted = make(map[string]bool, len(ids))
			for _, id := range ids {
				wanted[id] = true
			}
		}
	}

	var out []Record
	for _, rec := range records {
		if wanted != nil && !wanted[rec.RecordID] {
			continue
		}
		if criteria.Tool != "" && rec.Tool != criteria.Tool {
			continue
		}
		if criteria.Category != "" && rec.Category != criteria.Category {
			continue
		}
		if criteria.Status != "" && rec.Result.Status != criteria.Status {
			continue
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		if criteria.Target != "" && !targetMatches(criteria.Target, rec) {
			continue
		}
		out = append(out, rec)
	}

	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[len(out)-criteria.Limit:]
	}
	return out, nil
}

func targetMatches(pattern string, rec Record) bool {
	if ok, err := matcher.MatchGlob(pattern, rec.Target); err == nil && ok {
		return true
	}
	for _, t := range rec.Targets {
		if ok, err := matcher.MatchGlob(pattern, t); err == nil && ok {
			return true
		}
	}
	return false
}

// parseSince accepts an ISO-8601 timestamp or a relative duration like
// "24h", "30m", "10s", "7d" (interpreted as "now - N*unit"). An empty
// string means no lower bound.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := parseRelativeDuration(s); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid since value %q: not ISO-8601 or a relative duration", s)
}

func parseRelativeDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("too short")
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, err
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}
