// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/common/cache"
	"github.com/zaillisy/goryl/common/parallel"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/logics"
	"github.com/zaillisy/goryl/storage/data"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config      *config.Config
	DataClient  data.Database
	Clock       clock.Clock
	Pool        parallel.Pool
	Coordinator *cache.Coordinator
	Aggregator  *logics.Aggregator
	Recorder    *logics.Recorder
	Retriever   *logics.Retriever
	WebService  *restful.WebService
	HttpServer  *http.Server
}

// NewRestServer wires the personalization pipeline on top of a data store.
func NewRestServer(cfg *config.Config, dataClient data.Database, c clock.Clock, pool parallel.Pool) (*RestServer, error) {
	s := &RestServer{
		Config:      cfg,
		DataClient:  dataClient,
		Clock:       c,
		Pool:        pool,
		Coordinator: cache.NewCoordinator(c),
	}
	s.Aggregator = logics.NewAggregator(cfg, dataClient, c)
	s.Recorder = logics.NewRecorder(cfg, dataClient, s.Aggregator, c, pool)
	var err error
	if s.Retriever, err = logics.NewRetriever(cfg, dataClient, s.Aggregator, c); err != nil {
		return nil, errors.Trace(err)
	}
	// new interactions invalidate cached recommendations of the user
	s.Recorder.AddListener(func(_ context.Context, interaction data.Interaction) error {
		s.Coordinator.Clear(recommendPrefix(interaction.UserId))
		return nil
	})
	return s, nil
}

// Cache keys escape their segments so that ids containing "/" cannot collide.

func recommendPrefix(userId string) string {
	return "recommend/" + url.PathEscape(userId) + "/"
}

func recommendKey(req logics.RecommendationRequest) string {
	return fmt.Sprintf("%s%s/%d/%t", recommendPrefix(req.UserId), url.PathEscape(req.Category), req.Limit, req.ExcludeViewed)
}

func similarPrefix(itemId string) string {
	return "similar/" + url.PathEscape(itemId) + "/"
}

func similarKey(itemId string, n int) string {
	return fmt.Sprintf("%s%d", similarPrefix(itemId), n)
}

// Handler returns the container serving the REST API, its OpenAPI document
// and metrics.
func (s *RestServer) Handler() *restful.Container {
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// StartHttpServer serves until Shutdown is called.
func (s *RestServer) StartHttpServer(ctx context.Context) error {
	s.Coordinator.StartSweeper(ctx, s.Config.Cache.SweepPeriod, s.Config.Cache.SweepPrefixes)
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.HttpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for side channels to drain.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.HttpServer != nil {
		if err := s.HttpServer.Shutdown(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	s.Pool.Wait()
	return nil
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	start := time.Now()
	chain.ProcessFilter(req, resp)
	RestAPIRequestSecondsVec.WithLabelValues(fmt.Sprintf("%s %s", req.Request.Method, req.SelectedRoutePath())).
		Observe(time.Since(start).Seconds())
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := new(restful.WebService)
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(otelrestful.OTelFilter("goryl"))
	ws.Filter(LogFilter)

	/* Interactions */

	ws.Route(ws.POST("/interaction").To(s.insertInteraction).
		Doc("Record an interaction of a user on an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"interaction"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Reads(Interaction{}).
		Returns(http.StatusOK, "OK", Success{}).
		Writes(Success{}))
	ws.Route(ws.GET("/interactions/user/{user-id}").To(s.getUserInteractions).
		Doc("Get interactions of a user, oldest first.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"interaction"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("since", "only interactions at or after the time").DataType("string")).
		Writes([]data.Interaction{}))
	ws.Route(ws.GET("/interactions/item/{item-id}").To(s.getItemInteractions).
		Doc("Get interactions on an item, oldest first.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"interaction"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Param(ws.QueryParameter("since", "only interactions at or after the time").DataType("string")).
		Writes([]data.Interaction{}))

	/* Items */

	ws.Route(ws.POST("/items").To(s.insertItems).
		Doc("Insert or replace items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Reads([]Item{}).
		Writes(Success{}))
	ws.Route(ws.GET("/item/{item-id}").To(s.getItem).
		Doc("Get an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Writes(data.Item{}))
	ws.Route(ws.PATCH("/item/{item-id}").To(s.modifyItem).
		Doc("Modify an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Reads(data.ItemPatch{}).
		Writes(Success{}))

	/* Recommendations */

	ws.Route(ws.GET("/recommend").To(s.getRecommend).
		Doc("Get recommended items. Anonymous requests fall back to trending items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.QueryParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("category", "category of returned items").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Param(ws.QueryParameter("exclude-viewed", "exclude recently viewed items").DataType("boolean")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/similar/{item-id}").To(s.getSimilar).
		Doc("Get items similar to an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/affinity/{user-id}").To(s.getAffinity).
		Doc("Get the category affinity of a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Writes(logics.UserAffinity{}))
	ws.Route(ws.GET("/signal/{item-id}").To(s.getSignal).
		Doc("Get the decayed popularity of an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Writes(logics.ItemSignal{}))

	/* Cache */

	ws.Route(ws.DELETE("/cache").To(s.clearCache).
		Doc("Clear cached responses.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"cache"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.QueryParameter("prefix", "prefix of cleared keys, empty clears all").DataType("string")).
		Writes(Success{}))

	/* Health */

	ws.Route(ws.GET("/health/live").To(s.checkLive).
		Doc("Probe liveness.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))
	ws.Route(ws.GET("/health/ready").To(s.checkReady).
		Doc("Probe readiness.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))

	s.WebService = ws
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// ParseBool parses booleans from the query parameter.
func ParseBool(request *restful.Request, name string, fallback bool) (value bool, err error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	return strconv.ParseBool(valueString)
}

// ParseTime parses an optional time from the query parameter.
func ParseTime(request *restful.Request, name string) (*time.Time, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return nil, nil
	}
	value, err := dateparse.ParseAny(valueString)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.ToPtr(value.UTC()), nil
}

type Interaction struct {
	UserId string
	ItemId string
	Type   string
}

type Success struct {
	RowAffected int
}

func (s *RestServer) insertInteraction(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	interaction := new(Interaction)
	if err := request.ReadEntity(interaction); err != nil {
		BadRequest(response, err)
		return
	}
	if err := s.Recorder.Record(request.Request.Context(), interaction.UserId, interaction.ItemId, interaction.Type); err != nil {
		s.Error(response, err)
		return
	}
	Ok(response, Success{RowAffected: lo.Ternary(interaction.UserId == "", 0, 1)})
}

func (s *RestServer) getUserInteractions(request *restful.Request, response *restful.Response) {
	s.getInteractions(request, response, request.PathParameter("user-id"), s.DataClient.QueryUserInteractions)
}

func (s *RestServer) getItemInteractions(request *restful.Request, response *restful.Response) {
	s.getInteractions(request, response, request.PathParameter("item-id"), s.DataClient.QueryItemInteractions)
}

func (s *RestServer) getInteractions(request *restful.Request, response *restful.Response, id string,
	query func(ctx context.Context, id string, since *time.Time) ([]data.Interaction, error)) {
	if !s.auth(request, response) {
		return
	}
	since, err := ParseTime(request, "since")
	if err != nil {
		BadRequest(response, err)
		return
	}
	ctx, cancel := context.WithTimeout(request.Request.Context(), s.Config.Database.Timeout)
	defer cancel()
	interactions, err := query(ctx, id, since)
	if err != nil {
		ServiceUnavailable(response, err)
		return
	}
	Ok(response, interactions)
}

// Item is the item accepted by the REST API. Timestamp is parsed by
// dateparse and defaults to the time of insertion.
type Item struct {
	ItemId     string
	Category   string
	IsHidden   bool
	Timestamp  string
	Popularity float64
	Comment    string
}

func (s *RestServer) insertItems(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	items := make([]Item, 0)
	if err := request.ReadEntity(&items); err != nil {
		BadRequest(response, err)
		return
	}
	records := make([]data.Item, 0, len(items))
	for _, item := range items {
		if item.ItemId == "" {
			BadRequest(response, errors.New("item id is required"))
			return
		}
		timestamp := s.Clock.Now()
		if item.Timestamp != "" {
			var err error
			if timestamp, err = dateparse.ParseAny(item.Timestamp); err != nil {
				BadRequest(response, err)
				return
			}
		}
		if item.Popularity < 0 {
			BadRequest(response, errors.Errorf("popularity of item %s must not be negative", item.ItemId))
			return
		}
		records = append(records, data.Item{
			ItemId:     item.ItemId,
			Category:   item.Category,
			Timestamp:  timestamp.UTC(),
			IsHidden:   item.IsHidden,
			Popularity: item.Popularity,
			Comment:    item.Comment,
		})
	}
	ctx, cancel := context.WithTimeout(request.Request.Context(), s.Config.Database.Timeout)
	defer cancel()
	if err := s.DataClient.BatchInsertItems(ctx, records); err != nil {
		ServiceUnavailable(response, err)
		return
	}
	for _, item := range records {
		s.forgetItem(item.ItemId)
	}
	Ok(response, Success{RowAffected: len(lo.UniqBy(records, func(item data.Item) string { return item.ItemId }))})
}

func (s *RestServer) forgetItem(itemId string) {
	s.Retriever.ForgetItem(itemId)
	s.Aggregator.InvalidateItem(itemId)
	s.Coordinator.Clear(similarPrefix(itemId))
}

func (s *RestServer) getItem(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	itemId := request.PathParameter("item-id")
	ctx, cancel := context.WithTimeout(request.Request.Context(), s.Config.Database.Timeout)
	defer cancel()
	item, err := s.DataClient.GetItem(ctx, itemId)
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		ServiceUnavailable(response, err)
		return
	}
	Ok(response, item)
}

func (s *RestServer) modifyItem(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	itemId := request.PathParameter("item-id")
	var patch data.ItemPatch
	if err := request.ReadEntity(&patch); err != nil {
		BadRequest(response, err)
		return
	}
	ctx, cancel := context.WithTimeout(request.Request.Context(), s.Config.Database.Timeout)
	defer cancel()
	if err := s.DataClient.ModifyItem(ctx, itemId, patch); errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		ServiceUnavailable(response, err)
		return
	}
	s.forgetItem(itemId)
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	start := time.Now()
	req := logics.RecommendationRequest{
		UserId:   request.QueryParameter("user-id"),
		Category: request.QueryParameter("category"),
	}
	var err error
	if req.Limit, err = ParseInt(request, "n", 0); err != nil {
		BadRequest(response, err)
		return
	}
	if req.ExcludeViewed, err = ParseBool(request, "exclude-viewed", false); err != nil {
		BadRequest(response, err)
		return
	}
	items, err := cache.Fetch(request.Request.Context(), s.Coordinator, recommendKey(req), s.Config.Cache.RecommendTTL,
		func(ctx context.Context) ([]logics.ScoredItem, error) {
			return s.Retriever.GetRecommendations(ctx, req)
		})
	if err != nil {
		s.Error(response, err)
		return
	}
	GetRecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, items)
}

func (s *RestServer) getSimilar(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	itemId := request.PathParameter("item-id")
	n, err := ParseInt(request, "n", 0)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := cache.Fetch(request.Request.Context(), s.Coordinator, similarKey(itemId, n), s.Config.Cache.SimilarTTL,
		func(ctx context.Context) ([]logics.ScoredItem, error) {
			return s.Retriever.GetSimilarItems(ctx, itemId, n)
		})
	if err != nil {
		s.Error(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getAffinity(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	affinity, err := s.Aggregator.GetUserAffinity(request.Request.Context(), request.PathParameter("user-id"))
	if err != nil {
		s.Error(response, err)
		return
	}
	Ok(response, affinity)
}

func (s *RestServer) getSignal(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	signal, err := s.Aggregator.GetItemSignal(request.Request.Context(), request.PathParameter("item-id"))
	if err != nil {
		s.Error(response, err)
		return
	}
	Ok(response, signal)
}

func (s *RestServer) clearCache(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	Ok(response, Success{RowAffected: s.Coordinator.Clear(request.QueryParameter("prefix"))})
}

type HealthStatus struct {
	Live           bool
	Ready          bool
	DataStoreError string `json:",omitempty"`
}

func (s *RestServer) checkLive(_ *restful.Request, response *restful.Response) {
	Ok(response, HealthStatus{Live: true})
}

func (s *RestServer) checkReady(_ *restful.Request, response *restful.Response) {
	if err := s.DataClient.Ping(); err != nil {
		response.Header().Set("Access-Control-Allow-Origin", "*")
		if err = response.WriteHeaderAndJson(http.StatusServiceUnavailable,
			HealthStatus{Live: true, DataStoreError: err.Error()}, restful.MIME_JSON); err != nil {
			log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
		}
		return
	}
	Ok(response, HealthStatus{Live: true, Ready: true})
}

// Error maps errors of the pipeline to HTTP status codes.
func (s *RestServer) Error(response *restful.Response, err error) {
	switch {
	case errors.Is(err, logics.ErrValidation):
		BadRequest(response, err)
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, logics.ErrUpstreamUnavailable):
		ServiceUnavailable(response, err)
	default:
		InternalServerError(response, err)
	}
}

func writeError(response *restful.Response, httpStatus int, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	RestAPIErrorsTotal.WithLabelValues(strconv.Itoa(httpStatus)).Inc()
	if err = response.WriteError(httpStatus, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("bad request", zap.Error(err))
	writeError(response, http.StatusBadRequest, err)
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	writeError(response, http.StatusNotFound, err)
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("service unavailable", zap.Error(err))
	writeError(response, http.StatusServiceUnavailable, err)
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err)
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String("X-API-Key", apikey))
	writeError(response, http.StatusUnauthorized, errors.Unauthorizedf("api key"))
	return false
}
