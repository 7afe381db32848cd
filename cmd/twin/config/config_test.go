package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/twin/cmd/twin/config"
	"github.com/papercomputeco/twin/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		subcommands := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	execute := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// A local .twin dir makes the manager resolve here instead of $HOME.
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".twin"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
	})

	Describe("set subcommand", func() {
		It("writes the value to config.toml", func() {
			Expect(execute("set", "store.provider", "postgres")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("store.provider"))

			cfger, err := config.NewConfiger("")
			Expect(err).NotTo(HaveOccurred())
			cfg, err := cfger.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Store.Provider).To(Equal("postgres"))
		})

		It("rejects unknown keys", func() {
			Expect(execute("set", "invalid_key", "value")).NotTo(Succeed())
		})

		It("requires exactly two arguments", func() {
			Expect(execute("set", "store.provider")).NotTo(Succeed())
			Expect(execute("set")).NotTo(Succeed())
		})

		It("rejects invalid integer values", func() {
			Expect(execute("set", "store.vector_dimension", "not-a-number")).NotTo(Succeed())
			_, err := os.Stat(filepath.Join(tmpDir, ".twin", "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(execute("set", "cache.invalidation", "delayed")).To(Succeed())

			out.Reset()
			Expect(execute("get", "cache.invalidation")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("delayed"))
		})

		It("reports the default for a key not in the file", func() {
			Expect(execute("get", "store.provider")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(config.ProviderSQLite))
			Expect(out.String()).To(ContainSubstring(filepath.Join(".twin", "config.toml")))
		})

		It("rejects unknown keys", func() {
			Expect(execute("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			Expect(execute("get")).NotTo(Succeed())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key when no config exists", func() {
			Expect(execute("list")).To(Succeed())
			for _, key := range config.ValidConfigKeys() {
				Expect(out.String()).To(ContainSubstring(key))
			}
		})

		It("shows values from the config file", func() {
			Expect(execute("set", "api.listen", ":9999")).To(Succeed())

			out.Reset()
			Expect(execute("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(`":9999"`))
		})

		It("rejects any arguments", func() {
			Expect(execute("list", "extra")).NotTo(Succeed())
		})
	})
})
