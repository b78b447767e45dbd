package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidwdraper/EFFV2-sub000/pkg/config"
	"github.com/davidwdraper/EFFV2-sub000/pkg/models"
)

func policyConfig(baseURL string) *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Slug: "user", MajorVersion: 1},
		Mirror:  config.MirrorConfig{ConfigServiceURL: baseURL},
	}
}

func TestFetchRoutePolicy(t *testing.T) {
	want := models.RoutePolicy{
		Slug:         "user",
		MajorVersion: 1,
		Revision:     7,
		Rules: []models.Rule{
			{Method: http.MethodGet, PathPattern: "/v1/users/:id", UserAssertion: models.UserAssertionOptional},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/config/route-policy", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("slug"))
		assert.Equal(t, "1", r.URL.Query().Get("majorVersion"))
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchRoutePolicy(policyConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, want.Revision, got.Revision)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "/v1/users/:id", got.Rules[0].PathPattern)
}

func TestFetchRoutePolicyNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetchRoutePolicy(policyConfig(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchRoutePolicyMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := fetchRoutePolicy(policyConfig(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed route policy")
}
