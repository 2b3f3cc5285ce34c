package svc

import "errors"

// ErrNoSubscriptions 错误：没有配置任何订阅
var ErrNoSubscriptions = errors.New("no subscriptions configured")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
