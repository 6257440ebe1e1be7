package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/igolaizola/trackgen/pkg/cmd/web"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/peterbourgon/ff/v3"
)

func TestListValue(t *testing.T) {
	var list []string
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fsListVar(fs, &list, "list", "")
	if err := fs.Parse([]string{"-list", " Dance-pop, ,Synth-pop "}); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0] != "Dance-pop" || list[1] != "Synth-pop" {
		t.Fatalf("list = %q", list)
	}
}

func TestServeFlags(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "config.yaml")
	data := "db-type: redis\nmusic-timeout: 1m\ncors-origins: https://a.example,https://b.example\n"
	if err := os.WriteFile(config, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRACKGEN_ADDR", "127.0.0.1:9000")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	_ = fs.String("config", "", "")
	cfg := &web.Config{}
	appFlags(fs, &cfg.Config, &logger.Config{})
	dbFlags(fs, &cfg.Config)
	fs.StringVar(&cfg.Addr, "addr", ":8080", "")
	fsListVar(fs, &cfg.CORSOrigins, "cors-origins", "")

	if err := ff.Parse(fs, []string{"-config", config, "-production"}, options()...); err != nil {
		t.Fatal(err)
	}
	if cfg.DBType != "redis" || cfg.MusicTimeout != time.Minute || !cfg.Production {
		t.Fatalf("config = %+v", cfg.Config)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %q", cfg.CORSOrigins)
	}
	if cfg.SunoURL != "http://localhost:3000" || cfg.LyricsTimeout != 30*time.Second {
		t.Fatalf("defaults = %+v", cfg.Config)
	}
}
