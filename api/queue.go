/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"
	"time"

	"github.com/docbridge/docbridge/internal/apierror"

	"github.com/gin-gonic/gin"
)

type recoverStuckItemsRequest struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}

// RecoverStuckItems sweeps processing items abandoned by dead workers and
// pushes them back through the retry policy. The threshold defaults to an
// hour and is floored server side.
func (a Api) RecoverStuckItems(c *gin.Context) {
	var req recoverStuckItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	threshold := time.Duration(req.ThresholdMinutes) * time.Minute
	if threshold <= 0 {
		threshold = time.Hour
	}

	recovered, err := a.docbridge.RecoverStuckItems(c.Request.Context(), threshold)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}
