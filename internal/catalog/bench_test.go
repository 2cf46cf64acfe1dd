package catalog

import (
	"fmt"
	"testing"

	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/dex/dextest"
	"github.com/apk-analysis/dexcatalog/internal/loader"
)

// benchDex builds n outer classes, each with one anonymous inner class.
func benchDex(n int) []byte {
	b := dextest.New()
	for i := 0; i < n; i++ {
		for _, d := range []string{fmt.Sprintf("Lcom/bench/C%d;", i), fmt.Sprintf("Lcom/bench/C%d$1;", i)} {
			b.AddClass(dextest.Class{
				Descriptor: d,
				Access:     uint32(dex.AccPublic),
				Super:      objectType,
				VirtualMethods: []dextest.Method{{
					Name: "run", Return: "V", Access: uint32(dex.AccPublic),
					Code: &dextest.Code{Registers: 2, Ins: 1, Insns: []uint16{0x0012, 0x000e}},
				}},
			})
		}
	}
	return b.Bytes()
}

// BenchmarkNew 测试建立目录索引的开销
func BenchmarkNew(b *testing.B) {
	src := loader.RawStream{Data: benchDex(200)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := New(src, -1)
		if err != nil {
			b.Fatal(err)
		}
		c.Close()
	}
}

// BenchmarkDisassemble 测试单个类的 smali 渲染
func BenchmarkDisassemble(b *testing.B) {
	c, err := New(loader.RawStream{Data: benchDex(50)}, -1)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Disassemble("com.bench.C7$1"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRenderJava 测试外部类加嵌套类的 Java 渲染
func BenchmarkRenderJava(b *testing.B) {
	c, err := New(loader.RawStream{Data: benchDex(50)}, -1)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.RenderJava("com.bench.C7"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDisassembleParallel 测试并发渲染
func BenchmarkDisassembleParallel(b *testing.B) {
	c, err := New(loader.RawStream{Data: benchDex(50)}, -1)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.Disassemble("com.bench.C3"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
