package telemetry

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentResty opens a client span per request made through client.
// Bodies are not recorded since they carry credentials and session cookies.
func InstrumentResty(client *resty.Client, tracerName string) {
	tracer := otel.Tracer(tracerName)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, _ := tracer.Start(req.Context(), fmt.Sprintf("http %s", req.Method),
			trace.WithSpanKind(trace.SpanKindClient))
		req.SetContext(ctx)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		span := trace.SpanFromContext(res.Request.Context())
		defer span.End()

		span.SetAttributes(
			attribute.String("http.request.method", res.Request.Method),
			attribute.String("url.path", requestPath(res.Request)),
			attribute.Int("http.response.status_code", res.StatusCode()),
		)
		if res.StatusCode() >= 400 {
			span.SetStatus(codes.Error, res.Status())
		}
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		span := trace.SpanFromContext(req.Context())
		defer span.End()

		span.SetAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", requestPath(req)),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}

func requestPath(req *resty.Request) string {
	if req.RawRequest != nil && req.RawRequest.URL != nil {
		return req.RawRequest.URL.Path
	}
	return req.URL
}
