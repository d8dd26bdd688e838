package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astikit"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

var _ astifilter.Plugin = (*Plugin)(nil)

// Plugin serves the monitor over http and lets clients act on chains
type Plugin struct {
	ctx context.Context
	m   *monitorer.Monitorer
	o   PluginOptions
	p   *astifilter.Pipeline
	ps  Pusher
	s   *http.Server
}

type PluginOptions struct {
	Addr        string
	API         PluginAPIOptions
	CORS        PluginCORSOptions
	DeltaPeriod time.Duration
	Push        PluginPushOptions
}

type PluginAPIOptions struct {
	Headers     map[string]string
	QueryParams map[string]string
	URL         string
}

type PluginCORSOptions struct {
	// Default is "*"
	AllowedOrigins []string
}

type PluginPushOptions struct {
	Pusher      Pusher
	QueryParams map[string]string
	URL         string
}

func New(o PluginOptions) *Plugin {
	return &Plugin{o: o}
}

func (p *Plugin) Metadata() astifilter.Metadata {
	return astifilter.Metadata{Name: "monitor.server"}
}

func (p *Plugin) Init(ctx context.Context, c *astikit.Closer, pp *astifilter.Pipeline) error {
	// Store pipeline
	p.ctx = ctx
	p.p = pp

	// Create monitorer
	p.m = monitorer.New(monitorer.MonitorerOptions{
		OnDelta:  p.onDelta,
		Period:   p.o.DeltaPeriod,
		Pipeline: pp,
	})

	// Make sure monitorer is properly closed
	c.Add(p.m.Close)

	// Get pusher
	p.ps = p.o.Push.Pusher
	if p.ps == nil {
		p.ps = p.newWebsocketPusher()
	}

	// Make sure pusher is properly closed
	if v, ok := p.ps.(io.Closer); ok {
		c.AddWithError(v.Close)
	}

	// Addr was provided
	// We need the pusher at that point
	if p.o.Addr != "" {
		// Create http server
		p.s = &http.Server{
			Addr:    p.o.Addr,
			Handler: p.Handler(),
		}

		// Make sure http server is closed properly
		c.AddWithError(p.s.Close)
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Start http server
	if p.s != nil {
		// Do
		tc().Do(func() {
			// Log
			p.p.Logger().InfoCf(p.ctx, "server: serving on %s", p.o.Addr)

			// Serve
			var done = make(chan error, 1)
			go func() {
				if err := p.s.ListenAndServe(); err != nil {
					done <- err
				}
			}()

			// Wait
			select {
			case <-ctx.Done():
			case err := <-done:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: serving on %s failed: %w", p.o.Addr, err))
				}
			}

			// Shutdown
			p.p.Logger().InfoCf(p.ctx, "server: shutting down server on %s", p.o.Addr)
			if err := p.s.Shutdown(context.Background()); err != nil {
				p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: shutting down server on %s failed: %w", p.o.Addr, err))
			}
		})
	}

	// Start monitorer
	if p.m != nil {
		tc().Do(func() { p.m.Start(ctx) })
	}
}

// Handler routes api and push requests
func (p *Plugin) Handler() http.Handler {
	// Create router
	r := mux.NewRouter()

	// Add api routes
	if strings.HasPrefix(p.o.API.URL, "/") {
		r.Handle(p.o.API.URL+"/catch-up", p.ServeAPICatchUp()).Methods(http.MethodGet)
		r.Handle(p.o.API.URL+"/config", p.ServeAPIConfig()).Methods(http.MethodGet)
		r.Handle(p.o.API.URL+"/chains", p.ServeAPIChains()).Methods(http.MethodGet)
		r.Handle(p.o.API.URL+"/chains/{id:[0-9]+}/filters", p.ServeAPIChainFilters()).Methods(http.MethodPut)
		r.Handle(p.o.API.URL+"/chains/{id:[0-9]+}/reset", p.ServeAPIChainReset()).Methods(http.MethodPost)
		r.Handle(p.o.API.URL+"/chains/{id:[0-9]+}/speed", p.ServeAPIChainSpeed()).Methods(http.MethodPost)
	}

	// Add push route
	if strings.HasPrefix(p.o.Push.URL, "/") {
		r.Handle(p.o.Push.URL, p.ServePush())
	}

	// Add cors
	os := p.o.CORS.AllowedOrigins
	if len(os) == 0 {
		os = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions, http.MethodPost, http.MethodPut},
		AllowedOrigins: os,
	}).Handler(r)
}

type apiCatchUp struct {
	monitorer.Delta
	Pipeline apiPipeline `json:"pipeline"`
}

type apiPipeline struct {
	Description string `json:"description,omitempty"`
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

func (p *Plugin) writeJSON(w http.ResponseWriter, code int, i interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(i); err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: writing body failed: %w", err))
	}
}

func (p *Plugin) writeError(w http.ResponseWriter, code int, err error) {
	p.writeJSON(w, code, apiError{Message: err.Error()})
}

func (p *Plugin) ServeAPICatchUp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.writeJSON(w, http.StatusOK, p.catchUp())
	})
}

func (p *Plugin) catchUp() apiCatchUp {
	return apiCatchUp{
		Delta: p.m.CatchUp(),
		Pipeline: apiPipeline{
			Description: p.p.Metadata().Description,
			ID:          p.p.ID(),
			Name:        p.p.Metadata().Name,
		},
	}
}

type apiConfig struct {
	API  apiConfigAPI  `json:"api"`
	Push apiConfigPush `json:"push"`
}

type apiConfigAPI struct {
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	URL         string            `json:"url,omitempty"`
}

type apiConfigPush struct {
	QueryParams map[string]string `json:"query_params,omitempty"`
	URL         string            `json:"url,omitempty"`
}

// ServeAPIConfig tells clients how to reach the api and the push
func (p *Plugin) ServeAPIConfig() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.writeJSON(w, http.StatusOK, apiConfig{
			API: apiConfigAPI{
				Headers:     p.o.API.Headers,
				QueryParams: p.o.API.QueryParams,
				URL:         p.o.API.URL,
			},
			Push: apiConfigPush{
				QueryParams: p.o.Push.QueryParams,
				URL:         p.o.Push.URL,
			},
		})
	})
}

type apiChain struct {
	Error       string              `json:"error,omitempty"`
	ID          uint64              `json:"id"`
	Metadata    astifilter.Metadata `json:"metadata"`
	Speed       float64             `json:"speed"`
	State       string              `json:"state"`
	UserFilters string              `json:"user_filters,omitempty"`
}

func newAPIChain(c *astifilter.Chain) apiChain {
	ac := apiChain{
		ID:          c.ID(),
		Metadata:    c.Metadata(),
		Speed:       c.Speed(),
		State:       c.State().String(),
		UserFilters: astifilter.FilterSpecs(c.UserFilters()).String(),
	}
	if err := c.Err(); err != nil {
		ac.Error = err.Error()
	}
	return ac
}

func (p *Plugin) ServeAPIChains() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acs := []apiChain{}
		for _, c := range p.p.Chains() {
			acs = append(acs, newAPIChain(c))
		}
		p.writeJSON(w, http.StatusOK, acs)
	})
}

func (p *Plugin) chain(w http.ResponseWriter, r *http.Request) (*astifilter.Chain, bool) {
	// Parse id
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: parsing chain id failed: %w", err))
		return nil, false
	}

	// Get chain
	for _, c := range p.p.Chains() {
		if c.ID() == id {
			return c, true
		}
	}
	p.writeError(w, http.StatusNotFound, fmt.Errorf("server: chain %d not found", id))
	return nil, false
}

type apiChainFilters struct {
	Filters string `json:"filters"`
}

// ServeAPIChainFilters replaces the user filters of a chain
func (p *Plugin) ServeAPIChainFilters() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get chain
		c, ok := p.chain(w, r)
		if !ok {
			return
		}

		// Unmarshal
		var b apiChainFilters
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: unmarshaling body failed: %w", err))
			return
		}

		// Parse filters
		ss, err := astifilter.ParseFilterSpecs(b.Filters)
		if err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: parsing filters failed: %w", err))
			return
		}

		// Set filters
		if err = c.SetUserFilters(ss); err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: setting user filters failed: %w", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

type apiChainReset struct {
	Mode string `json:"mode"`
}

// ServeAPIChainReset posts a reset, it doesn't wait for it to be handled
func (p *Plugin) ServeAPIChainReset() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get chain
		c, ok := p.chain(w, r)
		if !ok {
			return
		}

		// Unmarshal
		var b apiChainReset
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: unmarshaling body failed: %w", err))
			return
		}

		// Get mode
		var m astifilter.ResetMode
		switch b.Mode {
		case "", astifilter.ResetModeSoft.String():
			m = astifilter.ResetModeSoft
		case astifilter.ResetModeHard.String():
			m = astifilter.ResetModeHard
		default:
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: invalid reset mode %q", b.Mode))
			return
		}

		// Reset
		c.Reset(m)
		w.WriteHeader(http.StatusNoContent)
	})
}

type apiChainSpeed struct {
	Resample bool    `json:"resample,omitempty"`
	Speed    float64 `json:"speed"`
}

type apiChainSpeedResponse struct {
	Handled bool `json:"handled"`
}

func (p *Plugin) ServeAPIChainSpeed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get chain
		c, ok := p.chain(w, r)
		if !ok {
			return
		}

		// Unmarshal
		var b apiChainSpeed
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: unmarshaling body failed: %w", err))
			return
		}

		// Invalid speed
		if b.Speed <= 0 {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("server: invalid speed %v", b.Speed))
			return
		}

		// Send command
		cmd := &astifilter.Command{
			Speed: b.Speed,
			Type:  astifilter.CommandTypeSetSpeed,
		}
		if b.Resample {
			cmd.Type = astifilter.CommandTypeSetSpeedResample
		}
		p.writeJSON(w, http.StatusOK, apiChainSpeedResponse{Handled: c.Command(cmd)})
	})
}

func (p *Plugin) ServePush() http.Handler {
	if h, ok := p.ps.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

func (p *Plugin) onDelta(d monitorer.Delta) {
	// Marshal
	b, err := json.Marshal(pushEvent{
		Name:    pushEventNameDelta,
		Payload: d,
	})
	if err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: marshaling push event failed: %w", err))
		return
	}

	// Push
	if _, err := p.ps.Write(b); err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: pushing failed: %w", err))
		return
	}
}
