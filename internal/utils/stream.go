package utils

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// StreamJSONLReader 流式 JSONL 读取器
type StreamJSONLReader struct {
	file    *os.File
	scanner *bufio.Scanner
	lineNum int
}

// NewStreamJSONLReader 创建流式 JSONL 读取器
func NewStreamJSONLReader(filePath string) (*StreamJSONLReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	// 设置较大的缓冲区以处理大行
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024) // 最大 10MB

	return &StreamJSONLReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Next 读取下一行并解析到 v；读完返回 io.EOF
func (r *StreamJSONLReader) Next(v interface{}) error {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}

	r.lineNum++
	return json.Unmarshal(r.scanner.Bytes(), v)
}

// LineNumber 获取当前行号
func (r *StreamJSONLReader) LineNumber() int {
	return r.lineNum
}

// Close 关闭读取器
func (r *StreamJSONLReader) Close() error {
	return r.file.Close()
}

// CountJSONLLines 统计 JSONL 文件行数 (不加载到内存)
func CountJSONLLines(filePath string) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	count := 0

	for scanner.Scan() {
		count++
	}

	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return count, nil
}

// StreamJSONLWriter 流式 JSONL 写入器
type StreamJSONLWriter struct {
	file   *os.File
	writer *bufio.Writer
}

// NewStreamJSONLWriter 创建流式 JSONL 写入器，已有文件会被覆盖
func NewStreamJSONLWriter(filePath string) (*StreamJSONLWriter, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	writer := bufio.NewWriterSize(file, 64*1024) // 64KB 缓冲

	return &StreamJSONLWriter{
		file:   file,
		writer: writer,
	}, nil
}

// WriteLine 写入一行 JSON
func (w *StreamJSONLWriter) WriteLine(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := w.writer.Write(jsonData); err != nil {
		return err
	}

	return w.writer.WriteByte('\n')
}

// Close 刷新缓冲区并关闭写入器
func (w *StreamJSONLWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
