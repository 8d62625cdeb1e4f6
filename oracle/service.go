package oracle

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/wallet"
)

// Chain is the node surface the fulfilment service needs. The service talks
// to the chain only by reading pending requests and submitting transactions.
type Chain interface {
	PendingRequests() ([]*core.VrfRequest, error)
	NextNonce(address string) (uint64, error)
	SubmitTx(tx *core.Transaction) error
}

// ServiceConfig tunes the fulfilment loop.
type ServiceConfig struct {
	Interval      time.Duration // rescan period
	ResubmitAfter time.Duration // retry a request still pending after this long
	Fee           uint64        // fee paid on consume_randomness transactions
}

// Service answers randomness requests addressed to its oracle account. It
// proves each pending request's alpha and submits a consume_randomness
// transaction. Repeated deliveries are no-ops on chain, so resubmitting a
// request whose transaction was dropped is safe.
type Service struct {
	chain  Chain
	prover *Prover
	signer *wallet.Wallet
	cfg    ServiceConfig
	log    *slog.Logger

	mu        sync.Mutex
	submitted map[string]time.Time

	job gocron.Job
}

// NewService builds a Service. signer is the oracle account named in the
// program params; prover holds the matching VRF key.
func NewService(chain Chain, prover *Prover, signer *wallet.Wallet, cfg ServiceConfig) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.ResubmitAfter <= 0 {
		cfg.ResubmitAfter = 30 * time.Second
	}
	return &Service{
		chain:     chain,
		prover:    prover,
		signer:    signer,
		cfg:       cfg,
		log:       slog.With("component", "oracle"),
		submitted: make(map[string]time.Time),
	}
}

// Subscribe triggers a scan after every committed block.
func (s *Service) Subscribe(em *events.Emitter) {
	em.Subscribe(events.EventBlockCommit, func(events.Event) {
		s.trigger()
	})
}

func (s *Service) trigger() {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return
	}
	if err := job.RunNow(); err != nil {
		s.log.Debug("run now", "err", err)
	}
}

// Run schedules the scan and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("oracle: new scheduler: %w", err)
	}
	job, err := sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() { s.Poll() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("oracle-fulfil"),
	)
	if err != nil {
		return fmt.Errorf("oracle: schedule: %w", err)
	}
	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	sched.Start()
	s.log.Info("oracle service started", "oracle", s.signer.PubKey(), "vrf_key", s.prover.PublicKeyHex(), "interval", s.cfg.Interval)
	<-ctx.Done()

	s.mu.Lock()
	s.job = nil
	s.mu.Unlock()
	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("oracle: shutdown: %w", err)
	}
	s.log.Info("oracle service stopped")
	return nil
}

// Poll fulfils every pending request addressed to this oracle that has not
// been answered recently. It returns the number of transactions submitted.
func (s *Service) Poll() int {
	reqs, err := s.chain.PendingRequests()
	if err != nil {
		s.log.Error("list pending requests", "err", err)
		return 0
	}
	now := time.Now()
	live := make(map[string]bool, len(reqs))
	sent := 0
	for _, req := range reqs {
		if req.Oracle != s.signer.PubKey() || req.VRFKey != s.prover.PublicKeyHex() {
			continue
		}
		live[req.ID] = true
		if !s.due(req.ID, now) {
			continue
		}
		if err := s.fulfil(req); err != nil {
			metrics.OracleSubmissions().AddWithLabel(1, map[string]string{"result": "error"})
			s.log.Warn("fulfil request", "request", req.ID, "user", req.User, "err", err)
			continue
		}
		metrics.OracleSubmissions().AddWithLabel(1, map[string]string{"result": "ok"})
		s.markSubmitted(req.ID, now)
		sent++
	}
	s.forget(live)
	return sent
}

// Fulfil builds the signed consume_randomness transaction for req.
func (s *Service) Fulfil(req *core.VrfRequest, nonce uint64) (*core.Transaction, error) {
	alpha, err := hex.DecodeString(req.Alpha)
	if err != nil {
		return nil, fmt.Errorf("oracle: decode alpha: %w", err)
	}
	beta, proof, err := s.prover.Prove(alpha)
	if err != nil {
		return nil, fmt.Errorf("oracle: prove: %w", err)
	}
	return s.signer.ConsumeRandomness(req.ID, hex.EncodeToString(beta), hex.EncodeToString(proof), nonce, s.cfg.Fee)
}

func (s *Service) fulfil(req *core.VrfRequest) error {
	nonce, err := s.chain.NextNonce(s.signer.PubKey())
	if err != nil {
		return fmt.Errorf("next nonce: %w", err)
	}
	tx, err := s.Fulfil(req, nonce)
	if err != nil {
		return err
	}
	if err := s.chain.SubmitTx(tx); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	s.log.Info("randomness submitted", "request", req.ID, "user", req.User, "tx", tx.ID)
	return nil
}

func (s *Service) due(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.submitted[id]
	return !ok || now.Sub(at) >= s.cfg.ResubmitAfter
}

func (s *Service) markSubmitted(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted[id] = now
}

func (s *Service) forget(live map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.submitted {
		if !live[id] {
			delete(s.submitted, id)
		}
	}
}
