package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求路径、响应来源与缓存代字段，供请求日志复用。
func RequestFields(requestID, method, path, source, generation string) logrus.Fields {
	fields := logrus.Fields{
		"method":     method,
		"path":       path,
		"source":     source,
		"generation": generation,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// LifecycleFields 提供 install/activate 阶段的公共字段。
func LifecycleFields(action, generation string, assets int) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"generation": generation,
		"assets":     assets,
	}
}
