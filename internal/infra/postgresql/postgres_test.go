package postgresql

import (
	"testing"
	"time"
)

func TestPoolConfigWithDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{name: "zero value", in: PoolConfig{}, want: DefaultPoolConfig()},
		{
			name: "explicit values kept",
			in:   PoolConfig{MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLifetime: 5 * time.Minute},
			want: PoolConfig{MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLifetime: 5 * time.Minute},
		},
		{
			name: "idle capped at open",
			in:   PoolConfig{MaxOpenConns: 4, MaxIdleConns: 8},
			want: PoolConfig{MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: time.Hour},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
