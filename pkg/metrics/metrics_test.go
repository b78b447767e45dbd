/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	reg := Init()
	require.NotNil(t, reg)

	// Second call returns the same registry.
	assert.Same(t, reg, Init())
	assert.Same(t, reg, GetRegistry())
}

func TestUpGauge(t *testing.T) {
	Init()
	assert.Equal(t, float64(1), testutil.ToFloat64(Up))
}

func TestCountersRecordWithoutInit(t *testing.T) {
	// Counters are usable before Init; the registry only governs exposure.
	before := testutil.ToFloat64(WalAppendsTotal)
	WalAppendsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WalAppendsTotal))

	S2SCallsTotal.WithLabelValues("user", "success").Inc()
	assert.Equal(t, float64(1),
		testutil.ToFloat64(S2SCallsTotal.WithLabelValues("user", "success")))
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "204"))

	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, before+1,
		testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "204")))
}

func TestGatherIncludesFabricMetrics(t *testing.T) {
	reg := Init()
	WalReplayDeliveredTotal.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fabric_up"])
	assert.True(t, names["fabric_wal_replay_delivered_total"])
	assert.True(t, names["go_goroutines"])
}
