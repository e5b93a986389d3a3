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

package docbridge

import (
	"embed"
	"fmt"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/database"
	redis_db "github.com/docbridge/docbridge/internal/redis-db"
	"github.com/redis/go-redis/v9"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Docbridge represents the main struct for the document intake pipeline.
type Docbridge struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
}

// NewDocbridge initializes a new instance of Docbridge with the provided datasource.
// It fetches the configuration and initializes the Redis client and stage queue.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Docbridge: A pointer to the newly created Docbridge instance.
// - error: An error if any of the initialization steps fail.
func NewDocbridge(db database.IDataSource) (*Docbridge, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newDocbridge := &Docbridge{datasource: db, queue: newQueue, redis: redisClient.Client()}
	return newDocbridge, nil
}
