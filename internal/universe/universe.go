package universe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const symbolColumn = "SYMBOL"

type yamlList struct {
	Symbols []string `yaml:"symbols"`
}

// Load 按给定顺序读取并拼接多个股票池文件，保留文件内顺序与重复项。
// 支持 .csv（取 Symbol 列，缺失时取第一列）与 .yaml/.yml（symbols 列表）。
func Load(paths ...string) ([]string, error) {
	var tickers []string
	for _, path := range paths {
		list, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, list...)
	}
	return tickers, nil
}

func loadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("universe: 打开 %q 失败: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".csv", ".txt", "":
		return ParseCSV(f)
	default:
		return nil, fmt.Errorf("universe: 不支持的文件类型 %q", path)
	}
}

// ParseCSV 解析 NSE 指数成分股 CSV。
func ParseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("universe: 读取表头失败: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) == symbolColumn {
			col = i
			break
		}
	}

	var tickers []string
	if col < 0 {
		// 无表头的单列清单，第一行即为代码。
		col = 0
		if s := clean(header, col); s != "" {
			tickers = append(tickers, s)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("universe: 解析失败: %w", err)
		}
		if s := clean(record, col); s != "" {
			tickers = append(tickers, s)
		}
	}
	return tickers, nil
}

// ParseYAML 解析 symbols 列表。
func ParseYAML(r io.Reader) ([]string, error) {
	var list yamlList
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("universe: 解析 YAML 失败: %w", err)
	}
	tickers := make([]string, 0, len(list.Symbols))
	for _, s := range list.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			tickers = append(tickers, s)
		}
	}
	return tickers, nil
}

// Exclude 剔除指数名等伪代码，忽略大小写与首尾空白，保持原顺序。
func Exclude(tickers []string, names []string) []string {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[normalize(n)] = struct{}{}
	}
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := skip[normalize(t)]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func clean(record []string, col int) string {
	if col >= len(record) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(record[col], "\ufeff"))
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
