// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge_graph

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clock := time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2, quiet)
	rl.now = func() time.Time { return clock }

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000").Code)

	w := hit("10.0.0.1:1000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMITED", resp.Code)

	// Another client has its own bucket.
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2:1000").Code)
	assert.Equal(t, 2, rl.clientCount())

	clock = clock.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000").Code)

	clock = clock.Add(idleClientTTL + time.Minute)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.3:1000").Code)
	assert.Equal(t, 1, rl.clientCount(), "idle clients are swept")
}

func TestNewRateLimiter_BurstDefaultsToRate(t *testing.T) {
	rl := NewRateLimiter(2.5, 0, nil)
	assert.Equal(t, 3, rl.burst)

	rl = NewRateLimiter(0.5, 0, nil)
	assert.Equal(t, 1, rl.burst)
}
