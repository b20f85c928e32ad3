package grpc

import (
	"context"
	"encoding/base64"
	"net"
	"os"
	"testing"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeMatchUC struct {
	res     *domain.MatchResult
	err     error
	gotData []byte
}

func (f *fakeMatchUC) Match(_ context.Context, input domain.ResourceLocator) (*domain.MatchResult, error) {
	data, err := os.ReadFile(string(input))
	if err != nil {
		return nil, err
	}
	f.gotData = data
	return f.res, f.err
}

func (f *fakeMatchUC) Templates() []domain.Template {
	return []domain.Template{domain.NewTemplate("cat", "cat.png")}
}

func (f *fakeMatchUC) ProviderStatus() usecase.ProviderStatus {
	return usecase.NewProviderStatus("p1", domain.ProviderReady, "v1")
}

func dialTestServer(t *testing.T, uc usecase.MatchUC) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(&cfg.GRPCConfig{}, 4<<20, logger.NewDiscardLogger())
	srv.RegisterServices(uc, 1024)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatal(err)
	}
	out := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/"+matchServiceName+"/"+method, in, out)
	return out, err
}

func TestMatchOverGRPC(t *testing.T) {
	cat := domain.NewTemplate("cat", "cat.png")
	uc := &fakeMatchUC{res: &domain.MatchResult{
		Matched:      true,
		Template:     &cat,
		Score:        0.9,
		DisplayScore: 90,
		Candidates:   []domain.ScoredTemplate{{Template: cat, Score: 0.9}},
	}}
	conn := dialTestServer(t, uc)

	out, err := invoke(t, conn, "Match", map[string]any{"image": base64.StdEncoding.EncodeToString([]byte("png-bytes"))})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	if string(uc.gotData) != "png-bytes" {
		t.Errorf("use case saw %q", uc.gotData)
	}
	fields := out.GetFields()
	if !fields["matched"].GetBoolValue() || fields["template"].GetStringValue() != "cat" || fields["display_score"].GetNumberValue() != 90 {
		t.Fatalf("response = %v", fields)
	}
}

func TestMatchOverGRPCErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      map[string]any
		ucErr    error
		wantCode codes.Code
	}{
		{"missing image", map[string]any{}, nil, codes.InvalidArgument},
		{"too large", map[string]any{"image": base64.StdEncoding.EncodeToString(make([]byte, 4096))}, nil, codes.ResourceExhausted},
		{"decode failure", map[string]any{"image": "eA=="}, e.MatchFailure("preprocess", e.ErrDecode), codes.InvalidArgument},
		{"not ready", map[string]any{"image": "eA=="}, e.ErrNotReady, codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialTestServer(t, &fakeMatchUC{err: tt.ucErr})

			_, err := invoke(t, conn, "Match", tt.req)
			if got := status.Code(err); got != tt.wantCode {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestListTemplatesAndProviderStatusOverGRPC(t *testing.T) {
	conn := dialTestServer(t, &fakeMatchUC{})

	out, err := invoke(t, conn, "ListTemplates", map[string]any{})
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	list := out.GetFields()["templates"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["name"].GetStringValue() != "cat" {
		t.Fatalf("templates = %v", list)
	}

	out, err = invoke(t, conn, "ProviderStatus", map[string]any{})
	if err != nil {
		t.Fatalf("ProviderStatus: %v", err)
	}
	if out.GetFields()["state"].GetStringValue() != "ready" {
		t.Fatalf("status = %v", out.GetFields())
	}
}

func TestRecoverUnary(t *testing.T) {
	s := NewGRPCServer(&cfg.GRPCConfig{Port: "0", NetworkMode: "tcp"}, 1<<20, logger.NewDiscardLogger())

	_, err := s.recoverUnary(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/matcher.v1.MatchService/Match"},
		func(context.Context, any) (any, error) { panic("boom") })

	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}
