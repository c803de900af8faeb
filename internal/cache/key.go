package cache

// Key 生成缓存键 {METHOD}:{ORIGIN}{PATH_AND_QUERY}，方法与最终 URL 相同的请求必然落在同一个键上。
func Key(method, origin, pathAndQuery string) string {
	return method + ":" + origin + pathAndQuery
}
