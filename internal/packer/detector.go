// Package packer recognizes hardened (packed) applications by the classes
// and native libraries their container carries.
package packer

import (
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// threshold 置信度达到该值即认为命中
const threshold = 0.4

// Detector 壳检测器
type Detector struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewDetector 创建壳检测器；rules 为空时使用内置规则
func NewDetector(logger *logrus.Logger, rules []Rule) *Detector {
	if len(rules) == 0 {
		rules = BuiltinRules()
	} else {
		rules = append([]Rule(nil), rules...)
	}
	sortRules(rules)

	return &Detector{
		rules:  rules,
		logger: logger,
	}
}

// Rules 返回按优先级排序后的规则
func (d *Detector) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// Detect 按优先级匹配规则，返回第一条达到阈值的结果
func (d *Detector) Detect(ev Evidence) *Result {
	result := &Result{Indicators: []string{}}

	classes := make(map[string]struct{}, len(ev.ClassNames))
	for _, n := range ev.ClassNames {
		classes[n] = struct{}{}
	}

	for _, rule := range d.rules {
		confidence, indicators := d.matchRule(rule, ev, classes)
		if confidence < threshold {
			continue
		}

		result.IsPacked = true
		result.Name = rule.Name
		result.Type = rule.Type
		result.Confidence = min(confidence, 1.0)
		result.Indicators = indicators

		d.logger.WithFields(logrus.Fields{
			"packer_name": result.Name,
			"packer_type": result.Type,
			"confidence":  result.Confidence,
			"indicators":  result.Indicators,
		}).Info("Packer detected")
		return result
	}

	d.logger.WithField("classes", len(ev.ClassNames)).Debug("No packer detected")
	return result
}

// matchRule 匹配单个规则
func (d *Detector) matchRule(rule Rule, ev Evidence, classes map[string]struct{}) (float64, []string) {
	confidence := 0.0
	indicators := []string{}

	// 完整类名命中权重最高
	for _, c := range rule.Classes {
		if _, ok := classes[c]; ok {
			confidence += 0.6
			indicators = append(indicators, "class:"+c)
		}
	}

	// 每个包名前缀只计一次
	for _, pkg := range rule.Packages {
		prefix := pkg + "."
		for _, n := range ev.ClassNames {
			if strings.HasPrefix(n, prefix) {
				confidence += 0.3
				indicators = append(indicators, "package:"+pkg)
				break
			}
		}
	}

	for _, ruleLib := range rule.NativeLibs {
		for _, lib := range ev.NativeLibs {
			if matchLibName(ruleLib, lib) {
				confidence += 0.4
				indicators = append(indicators, "native_lib:"+lib)
			}
		}
	}

	if rule.FileSize.DEXMaxKB > 0 && ev.DEXSize > 0 && ev.DEXSize/1024 < rule.FileSize.DEXMaxKB {
		confidence += 0.3
		indicators = append(indicators, "dex_size_anomaly")
	}
	if rule.FileSize.NativeMinMB > 0 && ev.NativeSize/(1024*1024) > rule.FileSize.NativeMinMB {
		confidence += 0.3
		indicators = append(indicators, "native_size_anomaly")
	}

	return confidence, indicators
}

// matchLibName 匹配库名（忽略版本号后缀）
func matchLibName(pattern, name string) bool {
	if pattern == name {
		return true
	}

	// libshellx-2.10.3.4.so -> libshellx
	patternBase := strings.Split(strings.TrimSuffix(pattern, ".so"), "-")[0]
	nameBase := strings.Split(strings.TrimSuffix(name, ".so"), "-")[0]
	return patternBase == nameBase
}

// CollectArchive 从 APK/JAR 中收集 Native 库与 DEX 大小；非 zip 文件返回错误
func CollectArchive(path string) (Evidence, error) {
	var ev Evidence
	reader, err := zip.OpenReader(path)
	if err != nil {
		return ev, err
	}
	defer reader.Close()

	for _, file := range reader.File {
		name := file.Name
		switch {
		case strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so"):
			ev.NativeLibs = append(ev.NativeLibs, filepath.Base(name))
			ev.NativeSize += int64(file.UncompressedSize64)
		case strings.HasSuffix(name, ".dex"):
			ev.DEXSize += int64(file.UncompressedSize64)
			ev.DEXCount++
		}
	}
	return ev, nil
}

// Summary 获取壳检测摘要信息
func Summary(r *Result) string {
	if r == nil || !r.IsPacked {
		return "未检测到加壳"
	}
	return "检测到加壳: " + r.Name + " (" + r.Type + ")"
}
