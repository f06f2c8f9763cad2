package lambdaadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/kirillkom/notation-ocr/internal/adapters/facade"
	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

type envelope struct {
	Type           string            `json:"type"`
	Records        []json.RawMessage `json:"Records"`
	HTTPMethod     string            `json:"httpMethod"`
	RequestContext json.RawMessage   `json:"requestContext"`
}

// Handler serves one Lambda function for S3 notifications, API Gateway
// proxy requests and direct type-tagged invocations.
type Handler struct {
	dispatcher *facade.Dispatcher
}

func NewHandler(dispatcher *facade.Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

func (h *Handler) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = logging.WithRequestID(ctx, lc.AwsRequestID)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode invocation payload: %w", err)
	}

	switch {
	case env.HTTPMethod != "" && len(env.RequestContext) > 0:
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode api gateway request: %w", err)
		}
		return h.proxy(ctx, req), nil
	case env.Type == "" && len(env.Records) > 0:
		var event events.S3Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode s3 event: %w", err)
		}
		return h.dispatcher.S3Trigger(ctx, event).Body, nil
	default:
		var req facade.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return h.dispatcher.Dispatch(ctx, req).Body, nil
	}
}

func (h *Handler) proxy(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if req.RequestContext.RequestID != "" && logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.WithRequestID(ctx, req.RequestContext.RequestID)
	}

	if req.HTTPMethod == http.MethodGet {
		id := req.PathParameters["id"]
		switch {
		case strings.HasSuffix(req.Path, "/status"):
			return toProxyResponse(h.dispatcher.GetStatus(ctx, id))
		case strings.HasSuffix(req.Path, "/results"):
			return toProxyResponse(h.dispatcher.GetResults(ctx, id))
		}
		return toProxyResponse(errorResponse(http.StatusNotFound, "route not found"))
	}
	if req.HTTPMethod != http.MethodPost {
		return toProxyResponse(errorResponse(http.StatusMethodNotAllowed, "method not allowed"))
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return toProxyResponse(errorResponse(http.StatusBadRequest, "invalid base64 body"))
		}
		body = decoded
	}
	var request facade.Request
	if err := json.Unmarshal(body, &request); err != nil {
		return toProxyResponse(errorResponse(http.StatusBadRequest, "invalid json"))
	}
	return toProxyResponse(h.dispatcher.Dispatch(ctx, request))
}

func errorResponse(status int, message string) facade.Response {
	code := domain.CodeValidation
	if status == http.StatusNotFound {
		code = domain.CodeNotFound
	}
	return facade.Response{
		StatusCode: status,
		Body:       facade.ErrorResponse{Error: message, ErrorCode: code},
	}
}

func toProxyResponse(resp facade.Response) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": "*",
	}
	body, err := json.Marshal(resp.Body)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		body, _ = json.Marshal(facade.ErrorResponse{Error: "internal error", ErrorCode: domain.CodeInternal})
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		headers["Retry-After"] = "1"
	}
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(body),
	}
}
