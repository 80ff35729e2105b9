package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/node"
)

// WriteRequest is the body of /assert and /resolve.
type WriteRequest struct {
	EntityID string `json:"entity_id"`
	Property string `json:"property"`
	Value    string `json:"value"`
	Author   string `json:"author"`
}

// RestoreRequest is the body of /restore. An empty Property restores the
// whole entity.
type RestoreRequest struct {
	EntityID string `json:"entity_id"`
	Property string `json:"property"`
	AsOf     string `json:"as_of"`
	Author   string `json:"author"`
}

// TreeView summarizes the hash tree of the node.
type TreeView struct {
	TopHash string `json:"top_hash"`
	Facts   int    `json:"facts"`
	Depth   int    `json:"depth"`
}

// Service serves the HTTP API of a node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	author      string
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService creates a Service. The default author is used for writes that
// do not name one.
func NewService(bindAddress string, n *node.Node, author string, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		author:      author,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering factsync API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(http.MethodGet, s.GetStats))
	s.mux.HandleFunc("/peers", s.makeHandler(http.MethodGet, s.GetPeers))
	s.mux.HandleFunc("/sessions", s.makeHandler(http.MethodGet, s.GetSessions))
	s.mux.HandleFunc("/tree", s.makeHandler(http.MethodGet, s.GetTree))
	s.mux.HandleFunc("/entity/", s.makeHandler(http.MethodGet, s.GetEntity))
	s.mux.HandleFunc("/history/", s.makeHandler(http.MethodGet, s.GetHistory))
	s.mux.HandleFunc("/snapshot/", s.makeHandler(http.MethodGet, s.GetSnapshot))
	s.mux.HandleFunc("/assert", s.makeHandler(http.MethodPost, s.PostAssert))
	s.mux.HandleFunc("/resolve", s.makeHandler(http.MethodPost, s.PostResolve))
	s.mux.HandleFunc("/restore", s.makeHandler(http.MethodPost, s.PostRestore))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(method string, fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve listens on the bind address until the context is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving factsync API")

	srv := &http.Server{
		Addr:              s.bindAddress,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// GetStats returns the node stats.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetStats())
}

// GetPeers returns the known peers.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetPeers())
}

// GetSessions returns the last sync sessions.
func (s *Service) GetSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.RecentSessions())
}

// GetTree returns the summary of the hash tree.
func (s *Service) GetTree(w http.ResponseWriter, r *http.Request) {
	tree := s.node.Core().Tree()
	writeJSON(w, http.StatusOK, TreeView{
		TopHash: tree.TopHash(),
		Facts:   tree.Len(),
		Depth:   tree.Depth(),
	})
}

// GetEntity returns the live state of an entity: /entity/{id}.
func (s *Service) GetEntity(w http.ResponseWriter, r *http.Request) {
	parts := pathParams(r.URL.Path, "/entity/")
	if len(parts) != 1 {
		http.Error(w, "expected /entity/{id}", http.StatusBadRequest)
		return
	}

	states, err := s.node.Core().Entity(parts[0])
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewEntityView(parts[0], states))
}

// GetHistory returns the facts of a key up to as_of:
// /history/{id}/{property}?as_of=.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	parts := pathParams(r.URL.Path, "/history/")
	if len(parts) != 2 {
		http.Error(w, "expected /history/{id}/{property}", http.StatusBadRequest)
		return
	}

	asOf, err := ParseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	facts, err := s.node.Core().History(parts[0], parts[1], asOf)
	if err != nil {
		s.fail(w, err)
		return
	}

	res := make([]fact.Fact, 0, len(facts))
	for _, f := range facts {
		res = append(res, *f)
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSnapshot returns the state of an entity at as_of: /snapshot/{id}?as_of=.
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	parts := pathParams(r.URL.Path, "/snapshot/")
	if len(parts) != 1 {
		http.Error(w, "expected /snapshot/{id}", http.StatusBadRequest)
		return
	}

	asOf, err := ParseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	states, err := s.node.Projector().Snapshot(parts[0], asOf)
	if err != nil {
		s.fail(w, err)
		return
	}

	view := NewEntityView(parts[0], states)
	t := time.Unix(0, asOf).UTC()
	view.AsOf = &t
	writeJSON(w, http.StatusOK, view)
}

// PostAssert records a new value.
func (s *Service) PostAssert(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, s.node.Core().Assert)
}

// PostResolve settles a conflict. It answers 409 when there is no conflict.
func (s *Service) PostResolve(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, s.node.Core().Resolve)
}

type writeFunc func(entityID, property, value string, meta fact.Meta) (*fact.Record, error)

func (s *Service) write(w http.ResponseWriter, r *http.Request, fn writeFunc) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Lock()
	defer s.Unlock()

	rec, err := fn(req.EntityID, req.Property, req.Value, s.node.Core().Meta(s.authorOf(req.Author)))
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// PostRestore restores an entity, or one of its properties, to its state at
// as_of.
func (s *Service) PostRestore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asOf, err := ParseAsOf(req.AsOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.Lock()
	defer s.Unlock()

	meta := s.node.Core().Meta(s.authorOf(req.Author))
	projector := s.node.Projector()

	var records []fact.Record
	if req.Property == "" {
		records, err = projector.Restore(req.EntityID, asOf, meta)
	} else {
		var rec *fact.Record
		rec, err = projector.RestoreProperty(req.EntityID, req.Property, asOf, meta)
		if rec != nil {
			records = []fact.Record{*rec}
		}
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, records)
}

func (s *Service) authorOf(author string) string {
	if author != "" {
		return author
	}
	return s.author
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, node.ErrNoConflict), errors.Is(err, node.ErrNothingToRestore):
		status = http.StatusConflict
	case common.IsStore(err, common.KeyNotFound):
		status = http.StatusNotFound
	case isValidation(err):
		status = http.StatusBadRequest
	default:
		s.logger.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func isValidation(err error) bool {
	var ve validator.ValidationErrors
	return errors.As(err, &ve)
}

func pathParams(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
