package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/san-kum/diffdrive/internal/sim"
)

const (
	metadataFile = "metadata.json"
	samplesFile  = "samples.csv"
)

var sampleHeader = []string{
	"time_ms", "left_ticks", "right_ticks", "heading",
	"left_output", "right_output", "left_setpoint", "right_setpoint",
	"closed_loop", "watchdog_expired", "stalled",
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata describes one recorded drivetrain run.
type RunMetadata struct {
	ID            string             `json:"id"`
	Kind          string             `json:"kind"`
	Preset        string             `json:"preset,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	Period        time.Duration      `json:"period"`
	Duration      time.Duration      `json:"duration"`
	Target        float64            `json:"target,omitempty"`
	Finished      bool               `json:"finished"`
	Ticks         int                `json:"ticks"`
	WatchdogTrips int                `json:"watchdog_trips"`
	Faults        int                `json:"faults"`
	Metrics       map[string]float64 `json:"metrics"`
}

// Save writes meta and the run's samples into a new run directory and
// returns its ID. ID, Timestamp, Finished, Ticks, WatchdogTrips and
// Metrics are filled from the result.
func (s *Store) Save(meta RunMetadata, result *sim.Result) (string, error) {
	now := time.Now()
	runDir, runID, err := s.newRunDir(meta.Kind, now)
	if err != nil {
		return "", err
	}

	meta.ID = runID
	meta.Timestamp = now
	meta.Finished = result.Finished
	meta.Ticks = result.Ticks
	meta.WatchdogTrips = result.WatchdogTrips
	meta.Metrics = result.Metrics

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", errors.Wrapf(err, "write metadata for %s", runID)
	}

	csvFile, err := os.Create(filepath.Join(runDir, samplesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteSamplesCSV(csvFile, result.Samples); err != nil {
		return "", errors.Wrapf(err, "write samples for %s", runID)
	}
	return runID, nil
}

func (s *Store) newRunDir(kind string, now time.Time) (string, string, error) {
	if kind == "" {
		kind = "run"
	}
	base := fmt.Sprintf("%s_%d", kind, now.Unix())
	for i := 0; ; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s_%d", base, i)
		}
		dir := filepath.Join(s.baseDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, id, nil
		}
		if !os.IsExist(err) {
			return "", "", err
		}
	}
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "parse metadata for %s", runID)
	}
	return &meta, nil
}

// LoadSamples reads a run's samples back. Malformed rows are skipped.
func (s *Store) LoadSamples(runID string) ([]sim.Sample, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, samplesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read samples for %s", runID)
	}
	if len(records) < 2 {
		return []sim.Sample{}, nil
	}

	samples := make([]sim.Sample, 0, len(records)-1)
	for _, rec := range records[1:] {
		if s, ok := parseSample(rec); ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// WriteSamplesCSV writes samples with a header row.
func WriteSamplesCSV(out io.Writer, samples []sim.Sample) error {
	w := csv.NewWriter(out)
	if err := w.Write(sampleHeader); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.Write(formatSample(s)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatSample(s sim.Sample) []string {
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return []string{
		strconv.FormatInt(s.Time.Milliseconds(), 10),
		strconv.FormatInt(s.LeftTicks, 10),
		strconv.FormatInt(s.RightTicks, 10),
		ff(s.Heading),
		ff(s.LeftOutput),
		ff(s.RightOutput),
		ff(s.LeftSetpoint),
		ff(s.RightSetpoint),
		strconv.FormatBool(s.ClosedLoop),
		strconv.FormatBool(s.WatchdogExpired),
		strconv.FormatBool(s.Stalled),
	}
}

func parseSample(rec []string) (sim.Sample, bool) {
	if len(rec) != len(sampleHeader) {
		return sim.Sample{}, false
	}
	var (
		s    sim.Sample
		errs [11]error
		ms   int64
	)
	ms, errs[0] = strconv.ParseInt(rec[0], 10, 64)
	s.Time = time.Duration(ms) * time.Millisecond
	s.LeftTicks, errs[1] = strconv.ParseInt(rec[1], 10, 64)
	s.RightTicks, errs[2] = strconv.ParseInt(rec[2], 10, 64)
	s.Heading, errs[3] = strconv.ParseFloat(rec[3], 64)
	s.LeftOutput, errs[4] = strconv.ParseFloat(rec[4], 64)
	s.RightOutput, errs[5] = strconv.ParseFloat(rec[5], 64)
	s.LeftSetpoint, errs[6] = strconv.ParseFloat(rec[6], 64)
	s.RightSetpoint, errs[7] = strconv.ParseFloat(rec[7], 64)
	s.ClosedLoop, errs[8] = strconv.ParseBool(rec[8])
	s.WatchdogExpired, errs[9] = strconv.ParseBool(rec[9])
	s.Stalled, errs[10] = strconv.ParseBool(rec[10])
	if multierr.Combine(errs[:]...) != nil {
		return sim.Sample{}, false
	}
	return s, true
}
