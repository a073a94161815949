// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Serve-evidence mailer: AWS Lambda function
//
// Runs the same pipeline as cmd/server behind API Gateway. Configuration
// and external clients are built once per cold start and reused across
// invocations.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/justlegal/serve-mailer/internal/config"
	"github.com/justlegal/serve-mailer/internal/models"
	"github.com/justlegal/serve-mailer/internal/pipeline"
)

// processor is the slice of *pipeline.Pipeline the function needs.
type processor interface {
	Process(ctx context.Context, body any) pipeline.Response
	Fail(err error) pipeline.Response
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	rt, err := pipeline.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	lambda.Start(newHandler(rt.Pipeline))
}

func newHandler(p processor) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		slog.Info("processing request", "request_id", req.RequestContext.RequestID)
		return encode(handle(ctx, p, req)), nil
	}
}

func handle(ctx context.Context, p processor, req events.APIGatewayProxyRequest) (resp pipeline.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing request", "panic", r)
			resp = p.Fail(models.NewError(models.KindInternal, "internal error", nil))
		}
	}()

	if req.Body == "" {
		return p.Process(ctx, nil)
	}

	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return p.Fail(models.NewError(models.KindInvalidPayload, "failed to decode request body", err))
		}
		return p.Process(ctx, decoded)
	}
	return p.Process(ctx, req.Body)
}

func encode(resp pipeline.Response) events.APIGatewayProxyResponse {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"success":false,"message":"failed to encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
