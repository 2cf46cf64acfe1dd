package packer

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// ruleFile 规则文件格式
//
//	[[rule]]
//	name = "360加固"
//	type = "native"
//	native_libs = ["libjiagu.so"]
//	classes = ["com.stub.StubApp"]
//	priority = 100
type ruleFile struct {
	Rules []Rule `toml:"rule"`
}

// BuiltinRules 内置壳规则库
func BuiltinRules() []Rule {
	return []Rule{
		// ==================== 国产加固 (高优先级) ====================
		{
			Name:       "360加固",
			Type:       TypeNative,
			NativeLibs: []string{"libjiagu.so", "libjiagu_x86.so", "libjiagu_a64.so", "libjiagu_x64.so"},
			Packages:   []string{"com.qihoo.util", "com.qihoo360.replugin"},
			Classes:    []string{"com.stub.StubApp", "com.qihoo.util.QHClassLoader"},
			Priority:   100,
		},
		{
			Name:       "腾讯乐固",
			Type:       TypeNative,
			NativeLibs: []string{"libshell.so", "libshellx.so", "libtxmsecurity.so", "libshella-2.10.3.4.so"},
			Packages:   []string{"com.tencent.StubShell"},
			Classes:    []string{"com.tencent.StubShell.TxAppEntry"},
			Priority:   100,
		},
		{
			Name:       "爱加密",
			Type:       TypeNative,
			NativeLibs: []string{"libexec.so", "libexecmain.so"},
			Packages:   []string{"s.h.e.l.l"},
			Classes:    []string{"com.shell.SuperApplication"},
			Priority:   100,
		},
		{
			Name:       "梆梆加固",
			Type:       TypeNative,
			NativeLibs: []string{"libDexHelper.so", "libDexHelper-x86.so", "libSecShell.so", "libSecShell-x86.so"},
			Packages:   []string{"com.secneo.apkwrapper", "com.bangcle"},
			Classes:    []string{"com.secneo.apkwrapper.ApplicationWrapper"},
			Priority:   100,
		},
		{
			Name:       "娜迦加固",
			Type:       TypeNative,
			NativeLibs: []string{"libnaga.so", "libddog.so", "libedog.so"},
			Packages:   []string{"com.nagapt.protect"},
			Classes:    []string{"com.nagapt.protect.StubApplication"},
			Priority:   95,
		},
		{
			Name:       "网易易盾",
			Type:       TypeNative,
			NativeLibs: []string{"libnesec.so", "libNetHTProtect.so"},
			Packages:   []string{"com.netease.nis.wrapper", "com.netease.htprotect"},
			Classes:    []string{"com.netease.nis.wrapper.MyApplication"},
			Priority:   95,
		},
		{
			Name:       "阿里聚安全",
			Type:       TypeNative,
			NativeLibs: []string{"libmobisec.so", "libsgmain.so", "libsgsecuritybody.so"},
			Packages:   []string{"com.alibaba.wireless.security", "com.taobao.wireless.security"},
			Classes:    []string{"com.alibaba.wireless.security.open.SecurityGuardManager"},
			Priority:   95,
		},
		{
			Name:       "百度加固",
			Type:       TypeNative,
			NativeLibs: []string{"libbaiduprotect.so", "libcocklogic.so"},
			Packages:   []string{"com.baidu.protect"},
			Classes:    []string{"com.baidu.protect.StubApplication"},
			Priority:   90,
		},
		{
			Name:       "通付盾",
			Type:       TypeNative,
			NativeLibs: []string{"libegis.so", "libNSaferOnly.so"},
			Packages:   []string{"com.payegis"},
			Classes:    []string{"com.payegis.protect.StubApp"},
			Priority:   90,
		},
		{
			Name:       "几维安全",
			Type:       TypeNative,
			NativeLibs: []string{"libkwscmm.so", "libkwscr.so"},
			Packages:   []string{"com.kiwisec", "cn.kiwisec"},
			Classes:    []string{"com.kiwisec.android.loader.KWLoader"},
			Priority:   85,
		},
		{
			Name:       "顶像加固",
			Type:       TypeNative,
			NativeLibs: []string{"libx3g.so", "libdxoptimizer.so"},
			Packages:   []string{"com.dingxiang.mobile"},
			Classes:    []string{"com.dingxiang.mobile.ShieldApp"},
			Priority:   85,
		},
		// ==================== 国际加固 ====================
		{
			Name:     "DexGuard",
			Type:     TypeDexEncrypt,
			Classes:  []string{"o.Oo", "o.OoO", "o.oOo", "o.OOo"},
			Priority: 80,
		},
		{
			Name:       "DexProtector",
			Type:       TypeVMP,
			NativeLibs: []string{"libdexprotector.so"},
			Packages:   []string{"com.licel.dexprotector"},
			Priority:   80,
		},
		{
			Name:       "Arxan",
			Type:       TypeNative,
			NativeLibs: []string{"libArxanJNI.so", "libArxan.so"},
			Packages:   []string{"com.arxan"},
			Priority:   75,
		},
		{
			Name:       "AppSealing",
			Type:       TypeNative,
			NativeLibs: []string{"libAppSealing.so", "libAppSealingCore.so"},
			Packages:   []string{"com.inka.appsealing"},
			Priority:   75,
		},
		// ==================== 通用特征 (低优先级) ====================
		{
			Name:     "未知壳 (DEX异常小)",
			Type:     TypeUnknown,
			FileSize: FileSizeRule{DEXMaxKB: 100},
			Priority: 10,
		},
		{
			Name:     "未知壳 (Native库异常大)",
			Type:     TypeUnknown,
			FileSize: FileSizeRule{NativeMinMB: 10},
			Priority: 10,
		},
	}
}

// LoadRules 读取 TOML 规则文件并与内置规则合并；同名规则以文件为准
func LoadRules(path string) ([]Rule, error) {
	var f ruleFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode packer rules %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in packer rules %s: %v", path, undecoded)
	}

	rules := BuiltinRules()
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		index[r.Name] = i
	}
	for i, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("packer rule #%d in %s has no name", i+1, path)
		}
		if r.Type == "" {
			r.Type = TypeUnknown
		}
		if j, ok := index[r.Name]; ok {
			rules[j] = r
			continue
		}
		index[r.Name] = len(rules)
		rules = append(rules, r)
	}
	return rules, nil
}

// sortRules 按优先级降序排序，同优先级保持原顺序
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}
