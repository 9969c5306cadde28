// Package grpcaudit runs unary gRPC handlers through the audit pipeline.
package grpcaudit

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	audit "github.com/kafeiih/go-opaudit"
)

// Metadata keys read by ActorFromMetadata.
const (
	MetadataUserID        = "x-user-id"
	MetadataUsername      = "x-username"
	MetadataTenant        = "x-tenant"
	MetadataCorrelationID = "x-correlation-id"
	MetadataUserAgent     = "user-agent"
)

// ParamSource is implemented by request messages that expose their
// audit parameters.
type ParamSource interface {
	AuditParams() audit.Params
}

// UnaryServerInterceptor audits the unary methods listed in methods,
// keyed by full method name ("/pkg.Service/Method"). Other methods pass
// through untouched. A handler error marks the call failed and the
// response message becomes the result data.
func UnaryServerInterceptor(p *audit.Pipeline, methods map[string]audit.AuditType) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		auditType, ok := methods[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}

		if audit.ActorFrom(ctx) == nil {
			if actor := ActorFromMetadata(ctx); actor != nil {
				ctx = audit.WithActor(ctx, *actor)
			}
		}

		params := audit.Params{}
		if src, ok := req.(ParamSource); ok {
			params = src.AuditParams()
		}

		var resp any
		_, err := p.Record(ctx, auditType, "", params, func(ctx context.Context, _ audit.Params) (audit.Result, error) {
			var err error
			resp, err = handler(ctx, req)
			if err != nil {
				return audit.Result{}, err
			}
			return audit.Result{Data: resp}, nil
		})
		return resp, err
	}
}

// ActorFromMetadata builds an actor from incoming metadata and the peer
// address. Returns nil when no user id is present.
func ActorFromMetadata(ctx context.Context) *audit.Actor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	actor := audit.Actor{
		UserID:        first(md, MetadataUserID),
		Username:      first(md, MetadataUsername),
		Tenant:        first(md, MetadataTenant),
		CorrelationID: first(md, MetadataCorrelationID),
		UserAgent:     first(md, MetadataUserAgent),
	}
	if actor.UserID == "" {
		return nil
	}
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		actor.IP = pr.Addr.String()
		if host, _, err := net.SplitHostPort(actor.IP); err == nil {
			actor.IP = host
		}
	}
	return &actor
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
