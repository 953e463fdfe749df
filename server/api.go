package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/cellmate/framework"
)

// proxyTimeout covers loading very large local models from slow disks.
const proxyTimeout = 20 * time.Minute

// APIServer exposes the agent to the spreadsheet add-in over HTTP. Backends
// maps proxy names (ollama, lmstudio) to base URLs.
type APIServer struct {
	Service       *Service
	Backends      map[string]string
	TemplatesPath string
	Logger        *log.Logger

	proxyMu   sync.Mutex
	proxies   map[string]*httputil.ReverseProxy
	transport *http.Transport
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logf("API listening on %s", addr)
	select {
	case <-ctx.Done():
		s.Service.Stop()
		s.closeProxies()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed handler with permissive CORS for the add-in.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/batch", s.handleBatch)
	mux.HandleFunc("/api/apply", s.handleApply)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/templates", s.handleTemplates)
	mux.HandleFunc("/api/proxy/", s.handleProxy)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *APIServer) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req SendParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The loop is bound to the session, not the request: a dropped
	// connection does not stop it, /api/stop does.
	result, err := s.Service.Send(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	var backendErr *framework.BackendError
	if errors.As(result.Err, &backendErr) {
		status = http.StatusBadGateway
	}
	writeJSONStatus(w, status, result)
}

func (s *APIServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]bool{"stopped": s.Service.Stop()})
}

func (s *APIServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req BatchParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := s.Service.Batch(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *APIServer) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := s.Service.Apply()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, result)
}

func (s *APIServer) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Service.Tools())
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.Service.HistoryList(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []framework.Interaction{}
		}
		writeJSON(w, entries)
	case http.MethodDelete:
		if err := s.Service.HistoryClear(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleTemplates stores the user's prompt templates as one JSON document.
func (s *APIServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if s.TemplatesPath == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		data, err := os.ReadFile(s.TemplatesPath)
		if err != nil {
			data = []byte("{}")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case http.MethodPost:
		var doc map[string]map[string]string
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := json.MarshalIndent(doc, "", "    ")
		if err == nil {
			err = os.MkdirAll(filepath.Dir(s.TemplatesPath), 0o755)
		}
		if err == nil {
			err = os.WriteFile(s.TemplatesPath, data, 0o644)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleProxy forwards /api/proxy/<backend>/<path> to the configured backend.
func (s *APIServer) handleProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/proxy/")
	name, path, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		http.Error(w, "invalid proxy path", http.StatusBadRequest)
		return
	}
	base, found := s.Backends[name]
	if !found {
		http.Error(w, "backend not found", http.StatusNotFound)
		return
	}
	proxy, err := s.proxyFor(name, base)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logf("[proxy] %s -> %s/%s", r.Method, strings.TrimRight(base, "/"), path)
	proxy.ServeHTTP(w, r)
}

// proxyFor returns the reverse proxy of backend name, building it on first
// use. All proxies share one transport so idle connections are pooled.
func (s *APIServer) proxyFor(name, base string) (*httputil.ReverseProxy, error) {
	s.proxyMu.Lock()
	defer s.proxyMu.Unlock()
	if proxy, ok := s.proxies[name]; ok {
		return proxy, nil
	}
	target, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if s.transport == nil {
		s.transport = http.DefaultTransport.(*http.Transport).Clone()
		s.transport.ResponseHeaderTimeout = proxyTimeout
	}
	prefix := "/api/proxy/" + name + "/"
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimPrefix(pr.In.URL.Path, prefix)
			pr.Out.URL.RawPath = ""
			pr.Out.Header.Del("Origin")
		},
		Transport: s.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logf("[proxy] %v", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		},
	}
	if s.proxies == nil {
		s.proxies = make(map[string]*httputil.ReverseProxy)
	}
	s.proxies[name] = proxy
	return proxy, nil
}

func (s *APIServer) closeProxies() {
	s.proxyMu.Lock()
	defer s.proxyMu.Unlock()
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, framework.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, errInvalidParams):
		status = http.StatusBadRequest
	}
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
