package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/twin/pkg/config"
)

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "viper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	It("resolves to the defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("reads config file values over defaults", func() {
		writeConfig(`[store]
provider = "inmemory"

[events]
brokers = ["k1:9092", "k2:9092"]
`)

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Store.Provider).To(Equal(config.ProviderInMemory))
		Expect(cfg.Events.Brokers).To(Equal([]string{"k1:9092", "k2:9092"}))
		Expect(cfg.API.Listen).To(Equal(config.NewDefaultConfig().API.Listen))
	})

	It("respects environment variables with the TWIN_ prefix", func() {
		GinkgoT().Setenv("TWIN_STORE_PROVIDER", "postgres")
		GinkgoT().Setenv("TWIN_EVENTS_BROKERS", "k1:9092,k2:9092")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Store.Provider).To(Equal(config.ProviderPostgres))
		Expect(cfg.Events.Brokers).To(Equal([]string{"k1:9092", "k2:9092"}))
	})

	It("binds the short environment aliases", func() {
		GinkgoT().Setenv("TWIN_SQL_HOST", "db.internal")
		GinkgoT().Setenv("TWIN_SQL_DB", "memories")
		GinkgoT().Setenv("TWIN_SQL_MAX_CONNECTIONS", "25")
		GinkgoT().Setenv("TWIN_KV_MAX_CONNECTIONS", "4")
		GinkgoT().Setenv("TWIN_CACHE_URL", "kv://cache:6379")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Pools.SQL.Host).To(Equal("db.internal"))
		Expect(cfg.Pools.SQL.Database).To(Equal("memories"))
		Expect(cfg.Pools.SQL.MaxConnections).To(Equal(25))
		Expect(cfg.Pools.KV.MaxConnections).To(Equal(4))
		Expect(cfg.Cache.RemoteURL).To(Equal("kv://cache:6379"))
		Expect(cfg.KVURL()).To(Equal("kv://cache:6379"))
	})

	It("env vars take precedence over config file values", func() {
		writeConfig(`[pools.sql]
host = "from-file"
`)
		GinkgoT().Setenv("TWIN_SQL_HOST", "from-env")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("pools.sql.host")).To(Equal("from-env"))
	})

	It("rejects values that do not parse", func() {
		GinkgoT().Setenv("TWIN_STORE_VECTOR_DIMENSION", "wide")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("store.vector_dimension")))
	})
})

var _ = Describe("BindFlags", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "bindflag-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("binds cobra flags to viper keys via registry", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)

		// Simulate flag being set by user
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())

		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen})

		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[api]\nlisten = \":5555\"\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagListen, &listen)

		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("skips bindings for nonexistent registry keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{"nonexistent", config.FlagProvider})

		Expect(v.GetString("store.provider")).To(Equal(config.ProviderSQLite))
	})

	It("AddStringFlag pulls name, shorthand, and description from FlagSet", func() {
		cmd := &cobra.Command{Use: "test"}
		var provider string
		config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &provider)

		f := cmd.Flags().Lookup("provider")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("p"))
		Expect(f.Usage).To(Equal(config.Flags[config.FlagProvider].Description))
		Expect(f.DefValue).To(Equal(config.ProviderSQLite))
	})

	It("AddIntFlag defaults to the configured dimension", func() {
		cmd := &cobra.Command{Use: "test"}
		var dimension int
		config.AddIntFlag(cmd, config.Flags, config.FlagDimension, &dimension)

		f := cmd.Flags().Lookup("dimension")
		Expect(f).NotTo(BeNil())
		Expect(dimension).To(Equal(config.NewDefaultConfig().Store.VectorDimension))
	})

	It("maps every registered flag onto a config key", func() {
		for name, flag := range config.Flags {
			Expect(config.IsValidConfigKey(flag.ViperKey)).To(BeTrue(), name)
		}
	})
})
