package timeline

import (
	"net/url"
	"strings"
)

// ImageResolver 把后端的图片路径映射成浏览器可加载的 URL, 只读、无副作用。
type ImageResolver func(path string) string

// PrefixResolver 本地路径拼接到 prefix 之后 (query 转义); 已是 URL 的原样返回。
func PrefixResolver(prefix string) ImageResolver {
	return func(path string) string {
		value := strings.TrimSpace(path)
		if value == "" {
			return ""
		}
		lower := strings.ToLower(value)
		if strings.HasPrefix(lower, "http://") ||
			strings.HasPrefix(lower, "https://") ||
			strings.HasPrefix(lower, "data:image/") ||
			strings.HasPrefix(lower, "file://") {
			return value
		}
		if prefix == "" {
			return (&url.URL{Scheme: "file", Path: value}).String()
		}
		return prefix + url.QueryEscape(value)
	}
}
