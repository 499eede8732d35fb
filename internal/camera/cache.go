package camera

// propertyCache holds the last reported info per property.
// Only the serializer worker touches it.
type propertyCache struct {
	entries map[PropertyCode]PropertyInfo
}

func newPropertyCache() *propertyCache {
	return &propertyCache{entries: make(map[PropertyCode]PropertyInfo)}
}

// merge overwrites the entry of every recognised code in infos and leaves
// all other entries untouched. It returns the unrecognised codes it dropped.
func (c *propertyCache) merge(infos map[PropertyCode]PropertyInfo) []PropertyCode {
	var dropped []PropertyCode
	for code, info := range infos {
		if !code.Known() {
			dropped = append(dropped, code)
			continue
		}
		info.Code = code
		c.entries[code] = info
	}
	return dropped
}

func (c *propertyCache) info(code PropertyCode) (PropertyInfo, bool) {
	info, ok := c.entries[code]
	return info, ok
}

func (c *propertyCache) value(code PropertyCode) (DeviceValue, bool) {
	info, ok := c.entries[code]
	if !ok {
		return DeviceValue{}, false
	}
	return info.Current, true
}

func (c *propertyCache) len() int { return len(c.entries) }
