package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/config"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/logging"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/risk"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/schema"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/scoring"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

type State string

const (
	StateReceived        State = "received"
	StateValidating      State = "validating"
	StateMappingRequired State = "mapping_required"
	StateNormalizing     State = "normalizing"
	StateScoring         State = "scoring"
	StateClassified      State = "classified"
	StateStored          State = "stored"
	StateFailed          State = "failed"
)

const postCommitTimeout = 10 * time.Second

// Request is one submission. A nil Mapping means the client has not sent a
// column mapping yet.
type Request struct {
	OwnerEmail string
	Filename   string
	Content    []byte
	Mapping    map[string]string
}

// Outcome is the result of a run that did not fail. In StateMappingRequired
// either Mismatch is set (columns missing, nothing mapped yet) or Missing
// lists the required columns the supplied mapping left unset.
type Outcome struct {
	State           State
	UploadID        string
	Mismatch        *schema.Report
	Missing         []string
	RequiredColumns []string
	DetectedColumns []string
	Summary         risk.Summary
}

// EventPublisher announces committed uploads.
type EventPublisher interface {
	PublishUploadCompleted(ctx context.Context, event services.UploadEvent) error
}

type Deps struct {
	Provider scoring.Provider
	Store    store.Store
	Archive  services.Archive
	Events   EventPublisher
	Logger   logrus.FieldLogger
}

type Pipeline struct {
	required     schema.RequiredSchema
	timeout      time.Duration
	threshold    float64
	modelVersion string

	provider scoring.Provider
	store    store.Store
	archive  services.Archive
	events   EventPublisher
	log      logrus.FieldLogger
}

func New(cfg config.ScoringConfig, deps Deps) (*Pipeline, error) {
	required := schema.RequiredSchema(append([]string(nil), cfg.RequiredColumns...))
	if len(required) == 0 {
		return nil, errors.New("required schema is empty")
	}
	if err := required.Check(); err != nil {
		return nil, err
	}
	if deps.Provider == nil || deps.Store == nil {
		return nil, errors.New("pipeline needs a provider and a store")
	}

	p := &Pipeline{
		required:     required,
		timeout:      cfg.Timeout,
		threshold:    cfg.DecisionThreshold,
		modelVersion: cfg.ModelVersion,
		provider:     deps.Provider,
		store:        deps.Store,
		archive:      deps.Archive,
		events:       deps.Events,
		log:          deps.Logger,
	}
	if p.archive == nil {
		p.archive = services.NoopArchive{}
	}
	if p.log == nil {
		p.log = logging.Discard()
	}
	return p, nil
}

// RequiredColumns returns a copy of the configured schema.
func (p *Pipeline) RequiredColumns() []string {
	return append([]string(nil), p.required...)
}

// Run takes one submission from received to stored, or stops at
// mapping_required. Any *Error means nothing was persisted.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	log := p.log.WithFields(logrus.Fields{
		"owner":    req.OwnerEmail,
		"filename": req.Filename,
	})

	outcome, err := p.run(ctx, req, log)
	runDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		runsTotal.WithLabelValues(string(StateFailed)).Inc()
		var perr *Error
		if errors.As(err, &perr) {
			failuresTotal.WithLabelValues(string(perr.Kind)).Inc()
			log = log.WithField("kind", perr.Kind)
		}
		log.WithError(err).Warn("upload pipeline failed")
		return nil, err
	}

	runsTotal.WithLabelValues(string(outcome.State)).Inc()
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, log logrus.FieldLogger) (*Outcome, error) {
	log.WithField("state", StateReceived).Debug("upload received")
	if err := checkFile(req); err != nil {
		return nil, err
	}
	data, err := schema.ParseCSV(bytes.NewReader(req.Content))
	if err != nil {
		return nil, malformed(err.Error(), nil)
	}

	log.WithField("state", StateValidating).Debug("validating columns")
	var mapping schema.ColumnMapping
	if req.Mapping == nil {
		report, err := schema.Validate(p.required, data.Headers)
		if err != nil {
			return nil, malformed(err.Error(), nil)
		}
		if !report.Passed() {
			log.WithField("missing", report.MissingColumns).Info("schema mismatch, mapping required")
			return &Outcome{
				State:           StateMappingRequired,
				Mismatch:        &report,
				RequiredColumns: report.RequiredColumns,
				DetectedColumns: report.DetectedColumns,
			}, nil
		}
		mapping = schema.Identity(p.required)
	} else {
		mapping, err = schema.ResolveMapping(p.required, req.Mapping, data.Headers)
		if err != nil {
			return nil, malformed(err.Error(), nil)
		}
	}

	log.WithField("state", StateNormalizing).Debug("applying column mapping")
	records, err := schema.Apply(p.required, mapping, data)
	var incomplete *schema.IncompleteMappingError
	if errors.As(err, &incomplete) {
		log.WithField("missing", incomplete.Missing).Info("column mapping incomplete")
		return &Outcome{
			State:           StateMappingRequired,
			Missing:         incomplete.Missing,
			RequiredColumns: p.RequiredColumns(),
			DetectedColumns: append([]string(nil), data.Headers...),
		}, nil
	}
	if err != nil {
		return nil, malformed(err.Error(), nil)
	}
	ids := schema.CustomerIDs(data, mapping)

	log.WithFields(logrus.Fields{"state": StateScoring, "rows": len(records)}).Debug("scoring records")
	scores, err := p.score(ctx, records)
	if err != nil {
		detail := "Prediction provider failed."
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "Prediction provider timed out."
		}
		return nil, &Error{Kind: KindProviderFailure, Detail: detail, Err: err}
	}

	upload, summary := p.classify(req, ids, scores)
	log = log.WithField("upload_id", upload.ID)
	log.WithFields(logrus.Fields{"state": StateClassified, "high": summary.HighCount}).Debug("records classified")

	if err := p.store.CreateUpload(ctx, upload); err != nil {
		return nil, &Error{Kind: KindStorage, Detail: "Failed to store prediction results.", Err: err}
	}
	rowsScored.Add(float64(len(records)))
	log.WithFields(logrus.Fields{"state": StateStored, "rows": len(records)}).Info("upload stored")

	p.afterCommit(ctx, upload, req.Content, summary, log)

	return &Outcome{
		State:           StateStored,
		UploadID:        upload.ID,
		RequiredColumns: p.RequiredColumns(),
		DetectedColumns: append([]string(nil), data.Headers...),
		Summary:         summary,
	}, nil
}

func checkFile(req Request) error {
	if !strings.EqualFold(filepath.Ext(req.Filename), ".csv") {
		return malformed("Only CSV files are supported.", nil)
	}
	if len(bytes.TrimSpace(req.Content)) == 0 {
		return malformed("Uploaded file is empty.", nil)
	}
	if !isText(mimetype.Detect(req.Content)) {
		return malformed("Uploaded file is not a text CSV file.", nil)
	}
	return nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

type scoreResult struct {
	scores []scoring.Score
	err    error
}

// score bounds the provider call by the configured timeout, even for
// providers that ignore their context.
func (p *Pipeline) score(ctx context.Context, records []schema.CustomerRecord) ([]scoring.Score, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan scoreResult, 1)
	go func() {
		scores, err := p.provider.Score(ctx, records)
		done <- scoreResult{scores: scores, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if err := scoring.CheckScores(records, res.scores); err != nil {
			return nil, err
		}
		return res.scores, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("scoring %d records: %w", len(records), ctx.Err())
	}
}

func (p *Pipeline) classify(req Request, ids []string, scores []scoring.Score) (*models.Upload, risk.Summary) {
	now := time.Now().UTC()
	upload := &models.Upload{
		ID:           uuid.NewString(),
		OwnerEmail:   req.OwnerEmail,
		Filename:     req.Filename,
		Status:       models.UploadCompleted,
		RowCount:     len(scores),
		ModelVersion: p.modelVersion,
		CreatedAt:    now,
		Predictions:  make([]models.Prediction, len(scores)),
	}

	rows := make([]risk.PredictionRow, len(scores))
	for i, s := range scores {
		label := scoring.ResolveLabel(s, p.threshold)
		upload.Predictions[i] = models.Prediction{
			Position:         i,
			CustomerID:       ids[i],
			ChurnProbability: s.Probability,
			ChurnLabel:       label,
			CreatedAt:        now,
		}
		rows[i] = risk.PredictionRow{CustomerID: ids[i], ChurnProbability: s.Probability, ChurnLabel: &label}
	}
	return upload, risk.Aggregate(rows)
}

// afterCommit archives the raw file and announces the upload. Failures are
// logged only; the committed upload stands either way.
func (p *Pipeline) afterCommit(ctx context.Context, upload *models.Upload, content []byte, summary risk.Summary, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	key := services.ArchiveKey(upload.ID, upload.Filename)
	if err := p.archive.Put(ctx, key, content); err != nil {
		postCommitFailures.WithLabelValues("archive").Inc()
		log.WithError(err).Warn("failed to archive raw upload")
	}

	if p.events == nil {
		return
	}
	event := services.UploadEvent{
		UploadID:   upload.ID,
		OwnerEmail: upload.OwnerEmail,
		RowCount:   upload.RowCount,
		HighCount:  summary.HighCount,
		CreatedAt:  upload.CreatedAt,
	}
	if err := p.events.PublishUploadCompleted(ctx, event); err != nil {
		postCommitFailures.WithLabelValues("publish").Inc()
		log.WithError(err).Warn("failed to publish upload event")
	}
}
