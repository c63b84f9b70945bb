// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api defines the HTTP surface of the clip catalog: the ingestion
// trigger, catalog lookups and the run dashboard. Routes are registered on a
// gin router group, normally /api/v1.
package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// BasePath is the prefix of every route.
const BasePath = "/api/v1"

// NewEngine creates a gin engine with tracing and CORS middleware and calls
// every register function with the /api/v1 group.
func NewEngine(serviceName string, register ...func(r *gin.RouterGroup)) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.Default())

	apiV1 := r.Group(BasePath)
	for _, fn := range register {
		fn(apiV1)
	}
	return r
}

// errorBody is the JSON body of every failed request.
func errorBody(err error) gin.H {
	return gin.H{"success": false, "error": err.Error()}
}
