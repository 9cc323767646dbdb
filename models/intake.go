package models

type DatabaseConf struct {
	Path string `toml:"Path"`
}

type OutputConf struct {
	Directory     string `toml:"Directory"`
	PresharedKeys bool   `toml:"PresharedKeys"`
	QRCode        bool   `toml:"QRCode"`
}

type KeysConf struct {
	Provider string `toml:"Provider"`
	WgBinary string `toml:"WgBinary"`
}

type LogConf struct {
	Level  string `toml:"Level"`
	Format string `toml:"Format"`
}

// MeshConf is the optional wg-meshconf.toml tool configuration.
type MeshConf struct {
	Database DatabaseConf `toml:"Database"`
	Output   OutputConf   `toml:"Output"`
	Keys     KeysConf     `toml:"Keys"`
	Log      LogConf      `toml:"Log"`
}

// DefaultMeshConf returns the configuration used when no file is present.
func DefaultMeshConf() MeshConf {
	return MeshConf{
		Database: DatabaseConf{Path: "database.csv"},
		Output:   OutputConf{Directory: "output"},
		Keys:     KeysConf{Provider: "native", WgBinary: "wg"},
		Log:      LogConf{Level: "info", Format: "text"},
	}
}
