// Package consultest runs an in-memory stand-in for the consul HTTP API covering the KV
// and health endpoints used in this module.
package consultest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/hashicorp/consul/api"
)

type Server struct {
	*httptest.Server

	mu       sync.RWMutex
	kv       map[string][]byte
	services map[string][]api.ServiceEntry
	index    uint64
}

func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		kv:       make(map[string][]byte),
		services: make(map[string][]api.ServiceEntry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/kv/", s.handleKV)
	mux.HandleFunc("/v1/health/service/", s.handleHealth)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)

	return s
}

// Client returns consul api client pointed at the fake
func (s *Server) Client(t *testing.T) *api.Client {
	t.Helper()

	cfg := api.DefaultConfig()
	cfg.Address = s.URL
	cli, err := api.NewClient(cfg)
	if err != nil {
		t.Fatalf("consul client: %v", err)
	}
	return cli
}

func (s *Server) Set(key, value string) {
	s.mu.Lock()
	s.kv[key] = []byte(value)
	s.index++
	s.mu.Unlock()
}

func (s *Server) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.kv[key]
	return string(v), ok
}

func (s *Server) AddService(name, address string, port int) {
	s.mu.Lock()
	s.services[name] = append(s.services[name], api.ServiceEntry{
		Service: &api.AgentService{
			Service: name,
			TaggedAddresses: map[string]api.ServiceAddress{
				"lan": {Address: address, Port: port},
			},
		},
	})
	s.mu.Unlock()
}

func (s *Server) writeMeta(w http.ResponseWriter) {
	w.Header().Set("X-Consul-Index", "1")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("Content-Type", "application/json")
}

func (s *Server) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
	s.writeMeta(w)

	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		defer s.mu.RUnlock()

		pairs := make([]api.KVPair, 0)
		_, recurse := r.URL.Query()["recurse"]
		for k, v := range s.kv {
			if k == key || (recurse && strings.HasPrefix(k, key)) {
				pairs = append(pairs, api.KVPair{Key: k, Value: v, ModifyIndex: s.index})
			}
		}
		if len(pairs) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

		_ = json.NewEncoder(w).Encode(pairs)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Set(key, string(body))
		_, _ = w.Write([]byte("true"))
	default:
		http.Error(w, "method not supported", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/v1/health/service/")
	s.writeMeta(w)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.services[name]
	if entries == nil {
		entries = []api.ServiceEntry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}
