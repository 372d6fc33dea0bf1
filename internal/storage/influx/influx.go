// Package influx writes match results as InfluxDB points. When the server
// cannot be reached at Init, points go to a gzip line protocol backup file
// instead.
package influx

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/pkg/core"
)

const (
	BackupFileName = "influx_backup.lp.gz"
	pingTimeout    = 5 * time.Second
	retentionDays  = 90
)

// Measurement names.
const (
	MeasurementMatch      = "match"
	MeasurementKill       = "kill"
	MeasurementFinalScore = "final_score"
)

// Sink implements storage.Sink on InfluxDB.
type Sink struct {
	cfg config.InfluxConfig
	log zerolog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	backupFile *os.File
	backup     *gzip.Writer

	mu      sync.Mutex
	matchID string
}

var _ storage.Sink = (*Sink)(nil)

// New creates a new InfluxDB sink.
func New(cfg config.InfluxConfig, log zerolog.Logger) *Sink {
	return &Sink{cfg: cfg, log: log}
}

// Online reports whether points go to the server rather than the backup file.
func (s *Sink) Online() bool {
	return s.writer != nil
}

// BackupPath returns where offline points are written.
func (s *Sink) BackupPath() string {
	return filepath.Join(s.cfg.BackupDir, BackupFileName)
}

// Init connects to InfluxDB, falling back to the backup file.
func (s *Sink) Init() error {
	s.client = influxdb2.NewClientWithOptions(
		s.cfg.URL(),
		s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.log.Warn().Err(err).Str("backupPath", s.BackupPath()).
			Msg("InfluxDB not reachable, writing to backup file")
		return s.openBackup()
	}

	if err := s.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}

	s.writer = s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.log.Error().Err(writeErr).Str("bucket", s.cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(s.writer.Errors())

	s.log.Info().Msg("InfluxDB client initialized")
	return nil
}

func (s *Sink) openBackup() error {
	if err := os.MkdirAll(s.cfg.BackupDir, 0755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(s.BackupPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	s.backupFile = file
	s.backup = gzip.NewWriter(file)
	return nil
}

func (s *Sink) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := s.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		s.log.Info().Str("org", s.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, s.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", s.cfg.Org, err)
		}
	}

	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, s.cfg.Bucket); err == nil {
		return nil
	}
	s.log.Info().Str("bucket", s.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * retentionDays,
	})
	if err != nil {
		return fmt.Errorf("error creating bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Flush()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.backup != nil {
		if err := s.backup.Close(); err != nil {
			return err
		}
		s.backup = nil
		return s.backupFile.Close()
	}
	return nil
}

func (s *Sink) write(point *influxdb2_write.Point) error {
	if s.writer != nil {
		s.writer.WritePoint(point)
		return nil
	}
	if s.backup == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := s.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

func (s *Sink) StartMatch(match *core.MatchState, participants []core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchID = match.ID
	return s.write(MatchPoint(match, len(participants), "start", match.StartedAt))
}

func (s *Sink) EndMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return storage.ErrNotStarted
	}
	err := s.write(MatchPoint(&core.MatchState{ID: s.matchID}, 0, "end", time.Now()))
	s.matchID = ""
	if s.writer != nil {
		s.writer.Flush()
	}
	return err
}

func (s *Sink) RecordKill(k *core.KillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return storage.ErrNotStarted
	}
	return s.write(KillPoint(k))
}

func (s *Sink) SubmitFinalScore(fs *core.FinalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return storage.ErrNotStarted
	}
	return s.write(FinalScorePoint(fs))
}

// MatchPoint marks a match boundary. phase is "start" or "end".
func MatchPoint(m *core.MatchState, players int, phase string, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementMatch,
		map[string]string{"match": m.ID, "phase": phase},
		map[string]any{"players": players, "duration_s": m.Duration.Seconds()},
		at)
}

func KillPoint(k *core.KillRecord) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementKill,
		map[string]string{
			"match":  k.MatchID,
			"killer": strconv.Itoa(k.KillerID),
			"victim": strconv.Itoa(k.VictimID),
		},
		map[string]any{"count": 1},
		k.At)
}

func FinalScorePoint(fs *core.FinalScore) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementFinalScore,
		map[string]string{
			"match":       fs.MatchID,
			"participant": strconv.Itoa(fs.ParticipantID),
			"name":        fs.Name,
		},
		map[string]any{
			"score":  fs.Score,
			"bonus":  fs.MatchBonus,
			"winner": fs.Winner,
		},
		fs.SubmittedAt)
}
