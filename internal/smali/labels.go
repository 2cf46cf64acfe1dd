package smali

import (
	"sort"
	"strconv"
)

// label identifies a jump target by kind and code address.
type label struct {
	prefix string
	addr   int
	num    int
}

type labelCache struct {
	sequential bool
	labels     map[string]map[int]*label
}

func newLabelCache(sequential bool) *labelCache {
	return &labelCache{sequential: sequential, labels: map[string]map[int]*label{}}
}

// get returns the shared label for (prefix, addr), creating it on first use.
func (c *labelCache) get(prefix string, addr int) *label {
	byAddr, ok := c.labels[prefix]
	if !ok {
		byAddr = map[int]*label{}
		c.labels[prefix] = byAddr
	}
	l, ok := byAddr[addr]
	if !ok {
		l = &label{prefix: prefix, addr: addr}
		byAddr[addr] = l
	}
	return l
}

// number assigns per-prefix sequence numbers in address order.
func (c *labelCache) number() {
	for _, byAddr := range c.labels {
		addrs := make([]int, 0, len(byAddr))
		for a := range byAddr {
			addrs = append(addrs, a)
		}
		sort.Ints(addrs)
		for i, a := range addrs {
			byAddr[a].num = i
		}
	}
}

func (c *labelCache) name(l *label) string {
	if c.sequential {
		return ":" + l.prefix + strconv.Itoa(l.num)
	}
	return ":" + l.prefix + strconv.FormatInt(int64(l.addr), 16)
}

// all returns every label sorted by address then prefix.
func (c *labelCache) all() []*label {
	var out []*label
	for _, byAddr := range c.labels {
		for _, l := range byAddr {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].addr != out[j].addr {
			return out[i].addr < out[j].addr
		}
		return out[i].prefix < out[j].prefix
	})
	return out
}
