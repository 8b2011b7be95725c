package initcmder_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	"github.com/papercomputeco/relay/pkg/config"
)

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-init-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	It("creates a .relay directory with a default config", func() {
		Expect(execute()).To(Succeed())

		info, err := os.Stat(filepath.Join(tmpDir, ".relay"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())

		cfg := loadConfig(tmpDir)
		Expect(cfg.Version).To(Equal(config.CurrentV))
		Expect(cfg.Server.Listen).To(Equal(":6490"))
		Expect(cfg.Upstream.URL).To(Equal("http://localhost:5001/v1/chat-messages"))
	})

	It("keeps existing contents when already initialized", func() {
		dir := filepath.Join(tmpDir, ".relay")
		Expect(os.MkdirAll(dir, 0o700)).To(Succeed())
		stateFile := filepath.Join(dir, "chat.json")
		Expect(os.WriteFile(stateFile, []byte(`{"conversationId":"c-1"}`), 0o600)).To(Succeed())

		Expect(execute()).To(Succeed())

		data, err := os.ReadFile(stateFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"conversationId":"c-1"}`))
	})

	It("writes a named preset", func() {
		Expect(execute("--preset", "workflow")).To(Succeed())
		Expect(loadConfig(tmpDir).Upstream.URL).To(Equal("https://api.dify.ai/v1/workflows/run"))
	})

	It("overwrites config.toml on re-init", func() {
		Expect(execute("--preset", "workflow")).To(Succeed())
		Expect(execute("--preset", "chat")).To(Succeed())
		Expect(loadConfig(tmpDir).Upstream.URL).To(Equal("https://api.dify.ai/v1/chat-messages"))
	})

	It("rejects unknown preset names", func() {
		err := execute("--preset", "nope")
		Expect(err).To(MatchError(ContainSubstring("unknown preset")))
		_, statErr := os.Stat(filepath.Join(tmpDir, ".relay"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	Describe("--preset with a URL", func() {
		It("fetches and writes the remote config", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "version = 0\n\n[upstream]\nurl = \"https://dify.internal/v1/chat-messages\"\n\n[server]\nlisten = \":9000\"\n")
			}))
			defer server.Close()

			Expect(execute("--preset", server.URL)).To(Succeed())

			cfg := loadConfig(tmpDir)
			Expect(cfg.Upstream.URL).To(Equal("https://dify.internal/v1/chat-messages"))
			Expect(cfg.Server.Listen).To(Equal(":9000"))
		})

		It("returns an error for a non-200 response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))
			defer server.Close()

			Expect(execute("--preset", server.URL)).To(MatchError(ContainSubstring("HTTP 404")))
		})

		It("returns an error for invalid TOML", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "this is not valid toml [[[")
			}))
			defer server.Close()

			Expect(execute("--preset", server.URL)).To(MatchError(ContainSubstring("parsing")))
		})

		It("returns an error for an unreachable URL", func() {
			Expect(execute("--preset", "http://127.0.0.1:1")).To(MatchError(ContainSubstring("fetching remote config")))
		})
	})
})

// loadConfig reads and parses the config.toml in baseDir/.relay.
func loadConfig(baseDir string) *config.Config {
	data, err := os.ReadFile(filepath.Join(baseDir, ".relay", "config.toml"))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	cfg := &config.Config{}
	ExpectWithOffset(1, toml.Unmarshal(data, cfg)).To(Succeed())
	return cfg
}
