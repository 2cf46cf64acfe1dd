package packer

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(rules []Rule) *Detector {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewDetector(logger, rules)
}

func TestDetect(t *testing.T) {
	d := newTestDetector(nil)

	tests := []struct {
		name   string
		ev     Evidence
		packed bool
		packer string
	}{
		{
			name:   "完整类名命中",
			ev:     Evidence{ClassNames: []string{"com.a.Main", "com.stub.StubApp"}},
			packed: true,
			packer: "360加固",
		},
		{
			name:   "Native 库命中（忽略版本号）",
			ev:     Evidence{ClassNames: []string{"com.a.Main"}, NativeLibs: []string{"libshellx-2.10.3.4.so"}},
			packed: true,
			packer: "腾讯乐固",
		},
		{
			name: "单个包名前缀不足阈值",
			ev:   Evidence{ClassNames: []string{"com.bangcle.Util"}},
		},
		{
			name:   "包名与类名叠加",
			ev:     Evidence{ClassNames: []string{"com.secneo.apkwrapper.ApplicationWrapper", "com.secneo.apkwrapper.H"}},
			packed: true,
			packer: "梆梆加固",
		},
		{
			name: "普通应用",
			ev:   Evidence{ClassNames: []string{"com.a.Main", "com.a.Main$1"}, DEXSize: 4 << 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.Detect(tt.ev)
			assert.Equal(t, tt.packed, r.IsPacked)
			assert.Equal(t, tt.packer, r.Name)
			if tt.packed {
				assert.NotEmpty(t, r.Indicators)
				assert.LessOrEqual(t, r.Confidence, 1.0)
			}
		})
	}
}

func TestDetectPriority(t *testing.T) {
	d := newTestDetector([]Rule{
		{Name: "low", Classes: []string{"a.B"}, Priority: 1},
		{Name: "high", Classes: []string{"a.B"}, Priority: 9},
	})
	assert.Equal(t, "high", d.Rules()[0].Name)
	assert.Equal(t, "high", d.Detect(Evidence{ClassNames: []string{"a.B"}}).Name)
}

func TestConfidenceCapped(t *testing.T) {
	d := newTestDetector(nil)
	r := d.Detect(Evidence{
		ClassNames: []string{"com.stub.StubApp", "com.qihoo.util.QHClassLoader"},
		NativeLibs: []string{"libjiagu.so", "libjiagu_a64.so"},
	})
	require.True(t, r.IsPacked)
	assert.Equal(t, 1.0, r.Confidence)
	assert.Len(t, r.Indicators, 5)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packers.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[rule]]
name = "360加固"
type = "native"
classes = ["com.stub.Replaced"]
priority = 100

[[rule]]
name = "Custom"
packages = ["org.custom.shield"]
native_libs = ["libshield.so"]
priority = 50
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, rules, len(BuiltinRules())+1)

	d := newTestDetector(rules)
	assert.False(t, d.Detect(Evidence{ClassNames: []string{"com.stub.StubApp"}}).IsPacked)
	assert.Equal(t, "360加固", d.Detect(Evidence{ClassNames: []string{"com.stub.Replaced"}}).Name)

	r := d.Detect(Evidence{ClassNames: []string{"org.custom.shield.Loader"}, NativeLibs: []string{"libshield.so"}})
	assert.Equal(t, "Custom", r.Name)
	assert.Equal(t, TypeUnknown, r.Type)
}

func TestLoadRulesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRules(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("[[rule]]\nname = \"x\"\nweight = 3\n"), 0o644))
	_, err = LoadRules(unknown)
	assert.ErrorContains(t, err, "unknown keys")

	nameless := filepath.Join(dir, "nameless.toml")
	require.NoError(t, os.WriteFile(nameless, []byte("[[rule]]\npriority = 3\n"), 0o644))
	_, err = LoadRules(nameless)
	assert.ErrorContains(t, err, "has no name")
}

func TestCollectArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, size := range map[string]int{
		"classes.dex":               2048,
		"classes2.dex":              1024,
		"lib/arm64-v8a/libjiagu.so": 512,
		"res/raw/a.bin":             16,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(make([]byte, size))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ev, err := CollectArchive(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"libjiagu.so"}, ev.NativeLibs)
	assert.Equal(t, int64(3072), ev.DEXSize)
	assert.Equal(t, 2, ev.DEXCount)
	assert.Equal(t, int64(512), ev.NativeSize)

	_, err = CollectArchive(filepath.Join(t.TempDir(), "nope.apk"))
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "未检测到加壳", Summary(nil))
	assert.Equal(t, "检测到加壳: DexGuard (dex_encrypt)", Summary(&Result{IsPacked: true, Name: "DexGuard", Type: TypeDexEncrypt}))
}

func TestLoadRules_Example(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "configs", "packer_rules.toml"))
	require.NoError(t, err)
	assert.Len(t, rules, len(BuiltinRules())+1)

	r := newTestDetector(rules).Detect(Evidence{
		ClassNames: []string{"com.example.shell.StubApplication"},
		NativeLibs: []string{"libexshell-2.1.so"},
	})
	assert.Equal(t, "自定义壳", r.Name)
	assert.Equal(t, TypeDexEncrypt, r.Type)
}
